// Package physmem provides the byte storage that stands in for physical frame
// contents. On unix it is an anonymous private mapping so large machines do not
// sit on the Go heap; elsewhere it is a plain slice.
package physmem
