package multipart

import "strings"

// ParseHeaderArguments splits a header value of the form
// "main; key1=value1; key2=\"value2\"" into its main token and an argument
// map, lowercasing argument keys.
func ParseHeaderArguments(header string) (main string, arguments map[string]string, ok bool) {
	parts := strings.Split(header, ";")
	if len(parts) == 0 {
		return "", nil, false
	}
	main = strings.TrimSpace(parts[0])
	if main == "" {
		return "", nil, false
	}
	arguments = map[string]string{}
	for _, p := range parts[1:] {
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(p[:eq]))
		value := strings.Trim(strings.TrimSpace(p[eq+1:]), `"`)
		arguments[key] = value
	}
	return main, arguments, true
}

// ParseMultipartContentType extracts the subtype ("form-data" or "related")
// and boundary out of a Content-Type header whose main token is
// "multipart/...".
func ParseMultipartContentType(contentType string) (subType, boundary string, ok bool) {
	main, args, ok := ParseHeaderArguments(contentType)
	if !ok {
		return "", "", false
	}
	const prefix = "multipart/"
	if !strings.HasPrefix(strings.ToLower(main), prefix) {
		return "", "", false
	}
	subType = main[len(prefix):]
	boundary, ok = args["boundary"]
	return subType, boundary, ok
}

// GetMainContentType returns the Content-Type part's main token (without
// arguments), reading it out of an already-lowercased header map.
func GetMainContentType(headers Headers) (string, bool) {
	v, ok := headers["content-type"]
	if !ok {
		return "", false
	}
	main, _, ok := ParseHeaderArguments(v)
	return main, ok
}
