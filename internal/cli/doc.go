// Package cli implements the command lines of the backend server binaries
// and of the guest compiler.
//
// A server is started with its port, its backend kind and a resource
// subcommand, the same arguments the gateway passes to a container:
//
//	--port 4181 --backend sp1 cpu
//	--port 4181 --backend sp1 gpu
//	--port 4181 --backend sp1 network --endpoint URL [--api-key KEY]
//	--port 4181 --backend sp1 cluster --endpoint URL [--api-key KEY]
//
// ERE_BACKEND stands in for --backend when the server is started by hand.
// The compiled program is read from stdin until EOF.
//
// The compiler takes the backend, the guest toolchain and a guest directory
// below the mounted directory:
//
//	--backend sp1 --compiler-kind rust --mount-dir . -o fib.bin ./guests/fib
package cli
