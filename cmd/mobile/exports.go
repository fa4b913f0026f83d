package main

/*
#include <stdlib.h>
*/
import "C"
import "unsafe"

// FreeString releases a string returned by any exported bridge call.
//
//export FreeString
func FreeString(s *C.char) {
	if s == nil {
		return
	}
	C.free(unsafe.Pointer(s))
}

// main is unused in c-shared builds.
func main() {}
