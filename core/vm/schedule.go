package vm

// Schedule is the gas-cost table returned by Externalities.Schedule().
// Field names and values follow the pre-Constantinople tier structure
// the fixed opcode set in spec §4.1 implies (no EIP-2929 access lists,
// no EIP-1283 net-metered SSTORE): Gzero/Gbase/Gverylow/Glow/Gmid/Ghigh
// per the Yellow Paper's Appendix G tiers.
type Schedule struct {
	StackLimit int
	MaxDepth   int

	Zero     uint64
	Base     uint64
	VeryLow  uint64
	Low      uint64
	Mid      uint64
	High     uint64
	Ext      uint64

	Balance     uint64
	Sload       uint64
	SstoreSet   uint64
	SstoreReset uint64
	SstoreRefund uint64
	Jumpdest    uint64

	Create  uint64
	Call    uint64
	CallStipend        uint64
	CallValueTransfer  uint64
	CallNewAccount     uint64
	SuicideRefund      uint64

	Memory      uint64
	QuadCoeffDiv uint64
	Copy        uint64

	Exp     uint64
	ExpByte uint64

	Log      uint64
	LogData  uint64
	LogTopic uint64

	Sha3     uint64
	Sha3Word uint64

	CodeDeposit uint64
}

// DefaultSchedule is the fixed gas schedule used throughout this module;
// the spec does not parameterize it per fork.
func DefaultSchedule() *Schedule {
	return &Schedule{
		StackLimit: stackLimit,
		MaxDepth:   1024,

		Zero:    0,
		Base:    2,
		VeryLow: 3,
		Low:     5,
		Mid:     8,
		High:    10,
		Ext:     20,

		Balance:      400,
		Sload:        200,
		SstoreSet:    20000,
		SstoreReset:  5000,
		SstoreRefund: 15000,
		Jumpdest:     1,

		Create:            32000,
		Call:              700,
		CallStipend:       2300,
		CallValueTransfer: 9000,
		CallNewAccount:    25000,
		SuicideRefund:     24000,

		Memory:       3,
		QuadCoeffDiv: 512,
		Copy:         3,

		Exp:     10,
		ExpByte: 10,

		Log:      375,
		LogData:  8,
		LogTopic: 375,

		Sha3:     30,
		Sha3Word: 6,

		CodeDeposit: 200,
	}
}
