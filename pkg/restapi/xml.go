package restapi

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
)

// jsonToXML renders a generic JSON value (as produced by json.Unmarshal into
// interface{}) as an XML document rooted at root, for Call.AnswerJSON's
// Accept: application/xml branch (spec.md §4.7). JSON objects become nested
// elements keyed by field name (in sorted order, for determinism); JSON
// arrays become repeated <item> elements; scalars become escaped text
// content.
func jsonToXML(root string, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	if err := writeXMLElement(&buf, root, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeXMLElement(buf *bytes.Buffer, tag string, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		fmt.Fprintf(buf, "<%s>", tag)
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := writeXMLElement(buf, xmlTagName(k), val[k]); err != nil {
				return err
			}
		}
		fmt.Fprintf(buf, "</%s>", tag)
	case []interface{}:
		fmt.Fprintf(buf, "<%s>", tag)
		for _, item := range val {
			if err := writeXMLElement(buf, "item", item); err != nil {
				return err
			}
		}
		fmt.Fprintf(buf, "</%s>", tag)
	case nil:
		fmt.Fprintf(buf, "<%s/>", tag)
	default:
		fmt.Fprintf(buf, "<%s>", tag)
		if err := xml.EscapeText(buf, []byte(scalarToString(val))); err != nil {
			return err
		}
		fmt.Fprintf(buf, "</%s>", tag)
	}
	return nil
}

func scalarToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// xmlTagName sanitizes a JSON key so it is a well-formed XML element name:
// empty keys and keys starting with a digit are prefixed, matching the one
// edge case generic JSON (unlike DICOM tag names) can actually produce.
func xmlTagName(key string) string {
	if key == "" {
		return "_"
	}
	if key[0] >= '0' && key[0] <= '9' {
		return "_" + key
	}
	return key
}
