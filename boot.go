package main

import "aa64boot/kernel/kmain"

var entryArgs [8]uintptr

// main makes a dummy call to the actual loader entrypoint function. It is
// intentionally defined to prevent the Go compiler from optimizing away the
// real loader code as it is not aware of the rt0 code that calls it.
//
// Global variables are passed as arguments to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
func main() {
	kmain.Kmain(
		entryArgs[0], entryArgs[1], entryArgs[2],
		kmain.LoaderImage{
			Base:     entryArgs[3],
			End:      entryArgs[4],
			Dynamic:  entryArgs[5],
			BssStart: entryArgs[6],
			BssEnd:   entryArgs[7],
		},
	)
}
