package pe

import "fmt"

// Machine is the COFF machine type.
type Machine uint16

const (
	MachineI386  Machine = 0x014C
	MachineARM   Machine = 0x01C0
	MachineARMNT Machine = 0x01C4
	MachineIA64  Machine = 0x0200
	MachineAMD64 Machine = 0x8664
	MachineARM64 Machine = 0xAA64
)

func (m Machine) String() string {
	switch m {
	case MachineI386:
		return "i386"
	case MachineARM:
		return "arm"
	case MachineARMNT:
		return "armv7"
	case MachineIA64:
		return "ia64"
	case MachineAMD64:
		return "amd64"
	case MachineARM64:
		return "arm64"
	}
	return fmt.Sprintf("machine(0x%04x)", uint16(m))
}

// PE64 reports whether images for m use the PE32+ optional header.
func (m Machine) PE64() bool {
	return m == MachineAMD64 || m == MachineARM64 || m == MachineIA64
}

// Writable reports whether the image writer can emit images for m.
func (m Machine) Writable() bool {
	switch m {
	case MachineI386, MachineAMD64, MachineARM, MachineARMNT, MachineARM64:
		return true
	}
	return false
}

// Data directory indices.
const (
	DirExport = iota
	DirImport
	DirResource
	DirException
	DirCertificate
	DirBaseReloc
	DirDebug
	DirCopyright
	DirGlobalPtr
	DirTLS
	DirLoadConfig
	DirBoundImport
	DirIAT
	DirDelayImport
	DirCLIHeader
	DirReserved

	NumDirectories
)

// File header characteristics.
const (
	CharExecutableImage   uint16 = 0x0002
	CharLargeAddressAware uint16 = 0x0020
	Char32BitMachine      uint16 = 0x0100
	CharDLL               uint16 = 0x2000
)

// Subsystems.
const (
	SubsystemWindowsGUI uint16 = 2
	SubsystemWindowsCUI uint16 = 3
)

// DLL characteristics.
const (
	DLLHighEntropyVA       uint16 = 0x0020
	DLLDynamicBase         uint16 = 0x0040
	DLLNXCompat            uint16 = 0x0100
	DLLNoSEH               uint16 = 0x0400
	DLLTerminalServerAware uint16 = 0x8000
)

// DefaultDLLCharacteristics is used for images created from scratch.
const DefaultDLLCharacteristics = DLLDynamicBase | DLLNXCompat | DLLNoSEH | DLLTerminalServerAware

// CLI header flags (ECMA-335 II.25.3.3.1).
const (
	CLIFlagILOnly           uint32 = 0x00000001
	CLIFlag32BitRequired    uint32 = 0x00000002
	CLIFlagILLibrary        uint32 = 0x00000004
	CLIFlagStrongNameSigned uint32 = 0x00000008
	CLIFlagNativeEntryPoint uint32 = 0x00000010
	CLIFlagTrackDebugData   uint32 = 0x00010000
	CLIFlag32BitPreferred   uint32 = 0x00020000
)

// Section characteristics used by the writer.
const (
	SectionText  uint32 = 0x60000020 // code, execute, read
	SectionRsrc  uint32 = 0x40000040 // initialized data, read
	SectionReloc uint32 = 0x42000040 // initialized data, discardable, read
)

// Layout constants.
const (
	TextRVA          = 0x2000
	SectionAlignment = 0x2000
	FileAlignment    = 0x200

	dosHeaderSize   = 0x80
	fileHeaderSize  = 20
	optHeaderSize32 = 0xE0
	optHeaderSize64 = 0xF0
	sectionHdrSize  = 40
	cliHeaderSize   = 0x48
	debugEntrySize  = 28
	metadataSig     = 0x424A5342
	peSignature     = 0x00004550
	relocBlockSize  = 12
	stubLength      = 6
)

// Debug directory entry types.
const (
	DebugTypeCodeView      uint32 = 2
	DebugTypeDeterministic uint32 = 16
	DebugTypeEmbeddedPDB   uint32 = 17
	DebugTypePDBChecksum   uint32 = 19
)

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
