// Package pacserr defines the error taxonomy shared by the HTTP engine and
// the DICOM dispatcher: a fixed set of error kinds, each carrying its own
// HTTP status and a short machine-readable name used in the JSON error body.
package pacserr

import (
	"errors"
	"net/http"

	"github.com/zeebo/errs"
)

// Kind is one of the taxonomy entries from spec.md §7. It is not a Go error
// type of its own; it classifies the errs.Class an error was built from.
type Kind int

const (
	InternalError Kind = iota
	ParameterOutOfRange
	BadParameterType
	BadSequenceOfCalls
	InexistentItem
	BadRequest
	NetworkProtocol
	BadFileFormat
	UnknownResource
	Unauthorized
	NotAcceptable
	NullPointer
	Timeout
	StorageFull
	ReadOnly
	IncompatibleVersion
	NotImplemented
	Plugin
)

type kindInfo struct {
	name       string
	httpStatus int
	// orthancStatus is the legacy numeric status code carried in the
	// OrthancStatus field of the error body (see spec.md §6).
	orthancStatus int
}

var kindTable = map[Kind]kindInfo{
	InternalError:       {"InternalError", http.StatusInternalServerError, 1},
	ParameterOutOfRange: {"ParameterOutOfRange", http.StatusBadRequest, 2},
	BadParameterType:    {"BadParameterType", http.StatusBadRequest, 3},
	BadSequenceOfCalls:  {"BadSequenceOfCalls", http.StatusInternalServerError, 4},
	InexistentItem:      {"InexistentItem", http.StatusNotFound, 5},
	BadRequest:          {"BadRequest", http.StatusBadRequest, 6},
	NetworkProtocol:     {"NetworkProtocol", http.StatusInternalServerError, 7},
	BadFileFormat:       {"BadFileFormat", http.StatusBadRequest, 8},
	UnknownResource:     {"UnknownResource", http.StatusNotFound, 17},
	Unauthorized:        {"Unauthorized", http.StatusUnauthorized, 9},
	NotAcceptable:       {"NotAcceptable", http.StatusNotAcceptable, 10},
	NullPointer:         {"NullPointer", http.StatusInternalServerError, 11},
	Timeout:             {"Timeout", http.StatusRequestTimeout, 12},
	StorageFull:         {"StorageFull", http.StatusInsufficientStorage, 13},
	ReadOnly:            {"ReadOnly", http.StatusForbidden, 14},
	IncompatibleVersion: {"IncompatibleVersion", http.StatusInternalServerError, 15},
	NotImplemented:      {"NotImplemented", http.StatusNotImplemented, 16},
	Plugin:              {"Plugin", http.StatusInternalServerError, 18},
}

// classes mirrors kindTable but as errs.Class values, so every taxonomy
// entry also has a proper error class for errors.Is-style matching and
// stack-trace capture.
var classes = func() map[Kind]*errs.Class {
	m := make(map[Kind]*errs.Class, len(kindTable))
	for k, info := range kindTable {
		c := errs.Class(info.name)
		m[k] = &c
	}
	return m
}()

// New builds an error of the given kind from a format string and its
// arguments.
func New(kind Kind, format string, args ...interface{}) error {
	class := classes[kind]
	return class.New(format, args...)
}

// Wrap attaches a taxonomy kind to an existing error.
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return classes[kind].Wrap(cause)
}

// KindOf recovers the taxonomy kind of err, defaulting to InternalError if
// err was not produced through this package.
func KindOf(err error) Kind {
	// Has also matches classes of wrapped causes, so walk the chain from
	// the outside and pick the class that e carries and its cause does not.
	for e := err; e != nil; e = errors.Unwrap(e) {
		inner := errors.Unwrap(e)
		for k, class := range classes {
			if class.Has(e) && !class.Has(inner) {
				return k
			}
		}
	}
	return InternalError
}

// HTTPStatus returns the status line an HTTP response should carry for err.
func HTTPStatus(err error) int {
	return kindTable[KindOf(err)].httpStatus
}

// Name returns the taxonomy name (e.g. "UnknownResource") used as the
// OrthancError field of the JSON error body.
func Name(kind Kind) string {
	return kindTable[kind].name
}

// OrthancStatus returns the legacy numeric status carried as OrthancStatus
// in the JSON error body (see spec.md §6 for the field's origin).
func OrthancStatus(kind Kind) int {
	return kindTable[kind].orthancStatus
}

// HTTPStatusText is a small helper so callers building the JSON body don't
// need to import net/http just for this.
func HTTPStatusText(status int) string {
	return http.StatusText(status)
}
