package model

import (
	"slices"
	"strconv"
	"strings"
)

// ArchFormat controls how resolved CUDA architectures are rendered into an
// image build argument.
type ArchFormat int

const (
	ArchNone ArchFormat = iota
	ArchCommaList
	ArchSemicolonList
	ArchLargest
)

// Render formats archs according to f. It returns "" when there is nothing
// to pass.
func (f ArchFormat) Render(archs []int) string {
	if len(archs) == 0 {
		return ""
	}
	sorted := slices.Clone(archs)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	switch f {
	case ArchCommaList:
		return joinInts(sorted, ",")
	case ArchSemicolonList:
		return joinInts(sorted, ";")
	case ArchLargest:
		return strconv.Itoa(sorted[len(sorted)-1])
	default:
		return ""
	}
}

func joinInts(vals []int, sep string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}

// RunOption is a `--name value` pair passed to the container runtime.
type RunOption struct {
	Name  string
	Value string
}

// HomeMount is a directory under the host user's home that is mounted into
// the container at the same absolute path and announced through Env.
type HomeMount struct {
	Path string
	Env  string
}

// Profile is the per-kind configuration consulted by image builds and
// container launches.
type Profile struct {
	// CUDABase marks kinds whose GPU images need the CUDA toolchain and the
	// "-cuda" tag suffix.
	CUDABase   bool
	ArchArg    string
	ArchFormat ArchFormat

	InheritEnv    []string
	GPUInheritEnv []string
	RunOptions    []RunOption

	GPUDevices      bool
	GPUDockerSocket bool
	GPUHostNetwork  bool

	// ScratchMount shares a host temp dir with the container (same path,
	// exported as TMPDIR) and mounts the docker socket, for backends that
	// start sibling containers during proving.
	ScratchMount bool
	HomeMounts   []HomeMount

	CompilerInheritEnv []string
}

var profiles = map[BackendKind]Profile{
	Airbender: {
		CUDABase:   true,
		ArchArg:    "CUDA_ARCH",
		ArchFormat: ArchLargest,
		GPUDevices: true,
	},
	OpenVM: {
		CUDABase:           true,
		ArchArg:            "CUDA_ARCH",
		ArchFormat:         ArchSemicolonList,
		GPUDevices:         true,
		CompilerInheritEnv: []string{"OPENVM_RUST_TOOLCHAIN"},
	},
	Risc0: {
		CUDABase:      true,
		ArchArg:       "CUDA_ARCH",
		ArchFormat:    ArchCommaList,
		InheritEnv:    []string{"RISC0_SEGMENT_PO2", "RISC0_KECCAK_PO2"},
		GPUInheritEnv: []string{"RISC0_DEFAULT_PROVER_NUM_GPUS"},
		GPUDevices:    true,
		ScratchMount:  true,
	},
	SP1: {
		GPUDockerSocket: true,
		GPUHostNetwork:  true,
		ScratchMount:    true,
		HomeMounts: []HomeMount{
			{Path: ".sp1/circuits/groth16", Env: "SP1_GROTH16_CIRCUIT_PATH"},
		},
	},
	Zisk: {
		CUDABase:   true,
		ArchArg:    "CUDA_ARCH",
		ArchFormat: ArchLargest,
		InheritEnv: []string{
			"ZISK_PORT",
			"ZISK_CHUNK_SIZE_BITS",
			"ZISK_UNLOCK_MAPPED_MEMORY",
			"ZISK_MINIMAL_MEMORY",
			"ZISK_PREALLOCATE",
			"ZISK_SHARED_TABLES",
			"ZISK_MAX_STREAMS",
			"ZISK_NUMBER_THREADS_WITNESS",
			"ZISK_MAX_WITNESS_STORED",
		},
		// Zisk exchanges data between processes through shared memory.
		RunOptions: []RunOption{
			{Name: "shm-size", Value: "16G"},
			{Name: "ulimit", Value: "memlock=-1:-1"},
		},
		GPUDevices: true,
	},
}

// Profile returns the configuration for k. Kinds without quirks get the
// zero Profile.
func (k BackendKind) Profile() Profile {
	return profiles[k]
}
