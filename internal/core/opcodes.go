package core

// Operation is the decoded opcode id stored in DBB entries and dispatched
// by the execution engine.
type Operation uint16

const (
	// pseudo ops
	OpUNDEF Operation = iota // unknown encoding
	OpUNSUP                  // known encoding, extension unavailable
	OpNOP                    // rd==x0 and no side effects

	// RV32I base
	OpLUI
	OpAUIPC
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU
	OpSB
	OpSH
	OpSW
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpJ    // jal with rd==x0
	OpJAL  //
	OpJR   // jalr with rd==x0
	OpJALR //
	OpFENCE
	OpFENCEI
	OpECALL
	OpEBREAK

	// RV64I
	OpLWU
	OpLD
	OpSD
	OpADDIW
	OpSLLIW
	OpSRLIW
	OpSRAIW
	OpADDW
	OpSUBW
	OpSLLW
	OpSRLW
	OpSRAW

	// Zicsr
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI

	// M extension
	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
	OpMULW
	OpDIVW
	OpDIVUW
	OpREMW
	OpREMUW

	// A extension
	OpLRW
	OpSCW
	OpAMOSWAPW
	OpAMOADDW
	OpAMOXORW
	OpAMOANDW
	OpAMOORW
	OpAMOMINW
	OpAMOMAXW
	OpAMOMINUW
	OpAMOMAXUW
	OpLRD
	OpSCD
	OpAMOSWAPD
	OpAMOADDD
	OpAMOXORD
	OpAMOANDD
	OpAMOORD
	OpAMOMIND
	OpAMOMAXD
	OpAMOMINUD
	OpAMOMAXUD

	// F extension
	OpFLW
	OpFSW
	OpFMADDS
	OpFMSUBS
	OpFNMSUBS
	OpFNMADDS
	OpFADDS
	OpFSUBS
	OpFMULS
	OpFDIVS
	OpFSQRTS
	OpFSGNJS
	OpFSGNJNS
	OpFSGNJXS
	OpFMINS
	OpFMAXS
	OpFCVTWS
	OpFCVTWUS
	OpFCVTLS
	OpFCVTLUS
	OpFMVXW
	OpFEQS
	OpFLTS
	OpFLES
	OpFCLASSS
	OpFCVTSW
	OpFCVTSWU
	OpFCVTSL
	OpFCVTSLU
	OpFMVWX

	// D extension
	OpFLD
	OpFSD
	OpFMADDD
	OpFMSUBD
	OpFNMSUBD
	OpFNMADDD
	OpFADDD
	OpFSUBD
	OpFMULD
	OpFDIVD
	OpFSQRTD
	OpFSGNJD
	OpFSGNJND
	OpFSGNJXD
	OpFMIND
	OpFMAXD
	OpFCVTSD
	OpFCVTDS
	OpFCVTWD
	OpFCVTWUD
	OpFCVTLD
	OpFCVTLUD
	OpFMVXD
	OpFEQD
	OpFLTD
	OpFLED
	OpFCLASSD
	OpFCVTDW
	OpFCVTDWU
	OpFCVTDL
	OpFCVTDLU
	OpFMVDX

	// privileged
	OpWFI
	OpSFENCEVMA
	OpURET
	OpSRET
	OpMRET

	// V extension (implemented subset)
	OpVSETVLI
	OpVSETIVLI
	OpVSETVL
	OpVLE
	OpVSE
	OpVLSE
	OpVSSE
	OpVLR
	OpVSR
	OpVADDVV
	OpVADDVX
	OpVADDVI
	OpVSUBVV
	OpVSUBVX
	OpVRSUBVX
	OpVRSUBVI
	OpVANDVV
	OpVANDVX
	OpVANDVI
	OpVORVV
	OpVORVX
	OpVORVI
	OpVXORVV
	OpVXORVX
	OpVXORVI
	OpVMINVV
	OpVMINVX
	OpVMINUVV
	OpVMINUVX
	OpVMAXVV
	OpVMAXVX
	OpVMAXUVV
	OpVMAXUVX
	OpVMSEQ
	OpVMSNE
	OpVMSLTU
	OpVMSLT
	OpVMSLEU
	OpVMSLE
	OpVMVVV
	OpVMVVX
	OpVMVVI
	OpVREDSUMVS
	OpVMVXS
	OpVMVSX

	numOperations
)

// isControlFlow reports whether an operation breaks the straight-line
// successor chain in the DBB cache.
func (op Operation) isControlFlow() bool {
	switch op {
	case OpJ, OpJAL, OpJR, OpJALR,
		OpBEQ, OpBNE, OpBLT, OpBGE, OpBLTU, OpBGEU,
		OpFENCEI, OpSFENCEVMA, OpECALL, OpEBREAK,
		OpURET, OpSRET, OpMRET,
		OpCSRRW, OpCSRRS, OpCSRRC, OpCSRRWI, OpCSRRSI, OpCSRRCI:
		return true
	}
	return false
}
