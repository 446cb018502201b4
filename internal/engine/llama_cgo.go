//go:build llama

package engine

// cgo link directives for the in-process llama backend. libllama.so and
// libggml*.so are expected next to the built binary (./bin); rpath $ORIGIN
// lets the runtime loader find them without environment variables.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
