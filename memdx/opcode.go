package memdx

import "encoding/hex"

// OpCode represents the specific command the packet is performing.
type OpCode uint8

// These constants provide predefined values for all the operations
// which can be relayed. Any other opcode is rejected at decode time.
const (
	OpCodeGet                = OpCode(0x00)
	OpCodeSet                = OpCode(0x01)
	OpCodeAdd                = OpCode(0x02)
	OpCodeReplace            = OpCode(0x03)
	OpCodeDelete             = OpCode(0x04)
	OpCodeIncrement          = OpCode(0x05)
	OpCodeDecrement          = OpCode(0x06)
	OpCodeQuit               = OpCode(0x07)
	OpCodeFlush              = OpCode(0x08)
	OpCodeGetQ               = OpCode(0x09)
	OpCodeNoop               = OpCode(0x0a)
	OpCodeVersion            = OpCode(0x0b)
	OpCodeGetK               = OpCode(0x0c)
	OpCodeGetKQ              = OpCode(0x0d)
	OpCodeAppend             = OpCode(0x0e)
	OpCodePrepend            = OpCode(0x0f)
	OpCodeStat               = OpCode(0x10)
	OpCodeSetQ               = OpCode(0x11)
	OpCodeAddQ               = OpCode(0x12)
	OpCodeReplaceQ           = OpCode(0x13)
	OpCodeDeleteQ            = OpCode(0x14)
	OpCodeIncrementQ         = OpCode(0x15)
	OpCodeDecrementQ         = OpCode(0x16)
	OpCodeQuitQ              = OpCode(0x17)
	OpCodeFlushQ             = OpCode(0x18)
	OpCodeAppendQ            = OpCode(0x19)
	OpCodePrependQ           = OpCode(0x1a)
	OpCodeVerbosity          = OpCode(0x1b)
	OpCodeTouch              = OpCode(0x1c)
	OpCodeGAT                = OpCode(0x1d)
	OpCodeGATQ               = OpCode(0x1e)
	OpCodeSASLListMechs      = OpCode(0x20)
	OpCodeSASLAuth           = OpCode(0x21)
	OpCodeSASLStep           = OpCode(0x22)
	OpCodeRGet               = OpCode(0x30)
	OpCodeRSet               = OpCode(0x31)
	OpCodeRSetQ              = OpCode(0x32)
	OpCodeRAppend            = OpCode(0x33)
	OpCodeRAppendQ           = OpCode(0x34)
	OpCodeRPrepend           = OpCode(0x35)
	OpCodeRPrependQ          = OpCode(0x36)
	OpCodeRDelete            = OpCode(0x37)
	OpCodeRDeleteQ           = OpCode(0x38)
	OpCodeRIncr              = OpCode(0x39)
	OpCodeRIncrQ             = OpCode(0x3a)
	OpCodeRDecr              = OpCode(0x3b)
	OpCodeRDecrQ             = OpCode(0x3c)
	OpCodeSetVbucket         = OpCode(0x3d)
	OpCodeGetVbucket         = OpCode(0x3e)
	OpCodeDelVbucket         = OpCode(0x3f)
	OpCodeTapConnect         = OpCode(0x40)
	OpCodeTapMutation        = OpCode(0x41)
	OpCodeTapDelete          = OpCode(0x42)
	OpCodeTapFlush           = OpCode(0x43)
	OpCodeTapOpaque          = OpCode(0x44)
	OpCodeTapVbucketSet      = OpCode(0x45)
	OpCodeTapCheckpointStart = OpCode(0x46)
	OpCodeTapCheckpointEnd   = OpCode(0x47)
)

// ParseOpCode maps a wire byte onto the closed set of known opcodes.
func ParseOpCode(b byte) (OpCode, error) {
	op := OpCode(b)
	if !op.IsKnown() {
		return 0, &FramingError{
			Field:  "opcode",
			Value:  uint64(b),
			Reason: "invalid opcode",
		}
	}
	return op, nil
}

// IsKnown reports whether the opcode is part of the command table.
func (command OpCode) IsKnown() bool {
	switch {
	case command <= OpCodeGATQ:
		return true
	case command >= OpCodeSASLListMechs && command <= OpCodeSASLStep:
		return true
	case command >= OpCodeRGet && command <= OpCodeTapCheckpointEnd:
		return true
	}
	return false
}

// IsQuiet reports whether the opcode is a quiet variant, for which the
// server suppresses uninteresting responses.
func (command OpCode) IsQuiet() bool {
	switch command {
	case OpCodeGetQ, OpCodeGetKQ, OpCodeSetQ, OpCodeAddQ, OpCodeReplaceQ,
		OpCodeDeleteQ, OpCodeIncrementQ, OpCodeDecrementQ, OpCodeQuitQ,
		OpCodeFlushQ, OpCodeAppendQ, OpCodePrependQ, OpCodeGATQ,
		OpCodeRSetQ, OpCodeRAppendQ, OpCodeRPrependQ, OpCodeRDeleteQ,
		OpCodeRIncrQ, OpCodeRDecrQ:
		return true
	}
	return false
}

func (command OpCode) String() string {
	return command.Name()
}

// Name returns the string representation of the OpCode.
func (command OpCode) Name() string {
	switch command {
	case OpCodeGet:
		return "GET"
	case OpCodeSet:
		return "SET"
	case OpCodeAdd:
		return "ADD"
	case OpCodeReplace:
		return "REPLACE"
	case OpCodeDelete:
		return "DELETE"
	case OpCodeIncrement:
		return "INCREMENT"
	case OpCodeDecrement:
		return "DECREMENT"
	case OpCodeQuit:
		return "QUIT"
	case OpCodeFlush:
		return "FLUSH"
	case OpCodeGetQ:
		return "GETQ"
	case OpCodeNoop:
		return "NOOP"
	case OpCodeVersion:
		return "VERSION"
	case OpCodeGetK:
		return "GETK"
	case OpCodeGetKQ:
		return "GETKQ"
	case OpCodeAppend:
		return "APPEND"
	case OpCodePrepend:
		return "PREPEND"
	case OpCodeStat:
		return "STAT"
	case OpCodeSetQ:
		return "SETQ"
	case OpCodeAddQ:
		return "ADDQ"
	case OpCodeReplaceQ:
		return "REPLACEQ"
	case OpCodeDeleteQ:
		return "DELETEQ"
	case OpCodeIncrementQ:
		return "INCREMENTQ"
	case OpCodeDecrementQ:
		return "DECREMENTQ"
	case OpCodeQuitQ:
		return "QUITQ"
	case OpCodeFlushQ:
		return "FLUSHQ"
	case OpCodeAppendQ:
		return "APPENDQ"
	case OpCodePrependQ:
		return "PREPENDQ"
	case OpCodeVerbosity:
		return "VERBOSITY"
	case OpCodeTouch:
		return "TOUCH"
	case OpCodeGAT:
		return "GAT"
	case OpCodeGATQ:
		return "GATQ"
	case OpCodeSASLListMechs:
		return "SASLLISTMECHS"
	case OpCodeSASLAuth:
		return "SASLAUTH"
	case OpCodeSASLStep:
		return "SASLSTEP"
	case OpCodeRGet:
		return "RGET"
	case OpCodeRSet:
		return "RSET"
	case OpCodeRSetQ:
		return "RSETQ"
	case OpCodeRAppend:
		return "RAPPEND"
	case OpCodeRAppendQ:
		return "RAPPENDQ"
	case OpCodeRPrepend:
		return "RPREPEND"
	case OpCodeRPrependQ:
		return "RPREPENDQ"
	case OpCodeRDelete:
		return "RDELETE"
	case OpCodeRDeleteQ:
		return "RDELETEQ"
	case OpCodeRIncr:
		return "RINCR"
	case OpCodeRIncrQ:
		return "RINCRQ"
	case OpCodeRDecr:
		return "RDECR"
	case OpCodeRDecrQ:
		return "RDECRQ"
	case OpCodeSetVbucket:
		return "SETVBUCKET"
	case OpCodeGetVbucket:
		return "GETVBUCKET"
	case OpCodeDelVbucket:
		return "DELVBUCKET"
	case OpCodeTapConnect:
		return "TAPCONNECT"
	case OpCodeTapMutation:
		return "TAPMUTATION"
	case OpCodeTapDelete:
		return "TAPDELETE"
	case OpCodeTapFlush:
		return "TAPFLUSH"
	case OpCodeTapOpaque:
		return "TAPOPAQUE"
	case OpCodeTapVbucketSet:
		return "TAPVBUCKETSET"
	case OpCodeTapCheckpointStart:
		return "TAPCHECKPOINTSTART"
	case OpCodeTapCheckpointEnd:
		return "TAPCHECKPOINTEND"
	default:
		return "x" + hex.EncodeToString([]byte{byte(command)})
	}
}
