package x64

// REX Prefix Constants
const (
	X86_REX_W = 0x08 // REX.W - 64-bit operand size
	X86_REX_R = 0x04 // REX.R - Extension of ModRM reg field
	X86_REX_X = 0x02 // REX.X - Extension of SIB index field
	X86_REX_B = 0x01 // REX.B - Extension of ModRM r/m, SIB base, or opcode reg field
)

// ModRM Mode Constants
const (
	X86_MOD_INDIRECT        = 0x00 // [reg] or [disp32]
	X86_MOD_INDIRECT_DISP8  = 0x01 // [reg + disp8]
	X86_MOD_INDIRECT_DISP32 = 0x02 // [reg + disp32]
	X86_MOD_REGISTER        = 0x03 // reg
)

// Primary Opcodes
const (
	X86_OP_ADD_RM_R        = 0x01
	X86_OP_OR_RM_R         = 0x09
	X86_OP_AND_RM_R        = 0x21
	X86_OP_SUB_RM_R        = 0x29
	X86_OP_XOR_RM_R        = 0x31
	X86_OP_CMP_RM_R        = 0x39
	X86_OP_REX             = 0x40
	X86_OP_PUSH_R          = 0x50
	X86_OP_POP_R           = 0x58
	X86_OP_MOVSXD          = 0x63
	X86_OP_OPSIZE          = 0x66 // operand size override
	X86_OP_GROUP1_RM_IMM32 = 0x81
	X86_OP_TEST_RM_R       = 0x85
	X86_OP_MOV_RM8_R8      = 0x88
	X86_OP_MOV_RM_R        = 0x89
	X86_OP_MOV_R_RM        = 0x8B
	X86_OP_CQO             = 0x99
	X86_OP_NOP             = 0x90
	X86_OP_MOV_R_IMM       = 0xB8
	X86_OP_GROUP2_RM_IMM8  = 0xC1
	X86_OP_RET             = 0xC3
	X86_OP_MOV_RM_IMM      = 0xC7
	X86_OP_GROUP2_RM_CL    = 0xD3
	X86_OP_CALL_REL32      = 0xE8
	X86_OP_JMP_REL32       = 0xE9
	X86_OP_JMP_REL8        = 0xEB
	X86_OP_GROUP3_RM       = 0xF7
	X86_OP_GROUP5_RM       = 0xFF
	X86_OP_PREFIX_F2       = 0xF2
	X86_OP_PREFIX_F3       = 0xF3
)

// Two-byte Opcodes (0x0F prefix)
const (
	X86_PREFIX_0F        = 0x0F
	X86_OP2_UCOMIS       = 0x2E
	X86_OP2_CVTSI2S      = 0x2A
	X86_OP2_CVTS2SI      = 0x2D
	X86_OP2_SQRT         = 0x51
	X86_OP2_ADD          = 0x58
	X86_OP2_MUL          = 0x59
	X86_OP2_CVTS2S       = 0x5A
	X86_OP2_SUB          = 0x5C
	X86_OP2_DIV          = 0x5E
	X86_OP2_MOVD_X_RM    = 0x6E
	X86_OP2_MOVD_RM_X    = 0x7E
	X86_OP2_JCC          = 0x80 // + condition code
	X86_OP2_SETCC        = 0x90 // + condition code
	X86_OP2_MXCSR        = 0xAE
	X86_OP2_IMUL_R_RM    = 0xAF
	X86_OP2_MOVZX_R_RM8  = 0xB6
	X86_OP2_MOVZX_R_RM16 = 0xB7
	X86_OP2_BT_IMM8      = 0xBA
	X86_OP2_MOVSX_R_RM8  = 0xBE
	X86_OP2_MOVSX_R_RM16 = 0xBF
)

// Condition codes, added to X86_OP2_JCC or X86_OP2_SETCC.
const (
	X86_CC_O  = 0x0
	X86_CC_B  = 0x2
	X86_CC_AE = 0x3
	X86_CC_E  = 0x4
	X86_CC_NE = 0x5
	X86_CC_BE = 0x6
	X86_CC_A  = 0x7
	X86_CC_S  = 0x8
	X86_CC_NS = 0x9
	X86_CC_P  = 0xA
	X86_CC_L  = 0xC
	X86_CC_GE = 0xD
	X86_CC_LE = 0xE
	X86_CC_G  = 0xF
)

// ModRM reg-field extensions for group opcodes
const (
	X86_EXT_ADD     = 0
	X86_EXT_AND     = 4
	X86_EXT_SUB     = 5
	X86_EXT_SHL     = 4
	X86_EXT_SHR     = 5
	X86_EXT_SAR     = 7
	X86_EXT_NOT     = 2
	X86_EXT_MUL     = 4
	X86_EXT_IMUL    = 5
	X86_EXT_DIV     = 6
	X86_EXT_IDIV    = 7
	X86_EXT_CALL    = 2
	X86_EXT_JMP     = 4
	X86_EXT_BTR     = 6
	X86_EXT_BTC     = 7
	X86_EXT_LDMXCSR = 2
	X86_EXT_STMXCSR = 3
)
