package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvid-dbt/corvid/internal/ir"
	"github.com/corvid-dbt/corvid/internal/model"
)

func featureModel() *model.Model {
	regs := map[string]model.RegisterDescriptor{
		"_PC": {Name: "_PC", Offset: 0, Typ: ir.Unsigned(ir.W64)},
	}
	offset := uint64(8)
	for _, name := range []string{"FEAT_AA64EL0_IMPLEMENTED", "FEAT_AA64EL1_IMPLEMENTED", "FEAT_SVE_IMPLEMENTED"} {
		regs[name] = model.RegisterDescriptor{Name: name, Offset: offset, Typ: ir.Unsigned(ir.W8)}
		offset++
	}
	return &model.Model{Name: "feature-test-model", Registers: regs, RegisterFileSize: 16}
}

func TestConfigureFeaturesWritesEnabledAndDisabledPolicy(t *testing.T) {
	m := featureModel()
	regs := model.NewRegisterFile(m)

	configureFeatures(m, regs)

	require.Equal(t, uint8(1), regs.Read8(m.RegOffset("FEAT_AA64EL0_IMPLEMENTED")))
	require.Equal(t, uint8(1), regs.Read8(m.RegOffset("FEAT_AA64EL1_IMPLEMENTED")))
	require.Equal(t, uint8(0), regs.Read8(m.RegOffset("FEAT_SVE_IMPLEMENTED")))
}

func TestConfigureFeaturesSkipsRegistersTheModelDoesNotDeclare(t *testing.T) {
	m := &model.Model{
		Name:             "no-features-model",
		Registers:        map[string]model.RegisterDescriptor{"_PC": {Name: "_PC", Offset: 0, Typ: ir.Unsigned(ir.W64)}},
		RegisterFileSize: 8,
	}
	regs := model.NewRegisterFile(m)

	require.NotPanics(t, func() { configureFeatures(m, regs) })
}

func TestBootInitializeSkipsMissingInitFunctionsButConfiguresFeatures(t *testing.T) {
	m := featureModel()
	regs := model.NewRegisterFile(m)

	require.NoError(t, bootInitialize(m, regs))

	require.Equal(t, uint8(1), regs.Read8(m.RegOffset("FEAT_AA64EL0_IMPLEMENTED")))
}

func TestBootInitializeRunsRegisterInitAndInitSystemWhenPresent(t *testing.T) {
	m := featureModel()

	// borealis_register_init writes 1 into a SENTINEL register (offset
	// 11, which configureFeatures never touches) and __InitSystem
	// overwrites it with 7, so a final value of 7 shows that both
	// interpreted calls ran and that __InitSystem ran after
	// borealis_register_init.
	m.Registers["SENTINEL"] = model.RegisterDescriptor{Name: "SENTINEL", Offset: 11, Typ: ir.Unsigned(ir.W8)}
	m.RegisterFileSize = 16

	regInit := ir.NewFunction("borealis_register_init", ir.Unsigned(ir.W8), nil)
	regInitEntry := regInit.AddBlock()
	regInit.Entry = regInitEntry
	bd := ir.NewBuilder(regInit.Block(regInitEntry))
	one := bd.ConstantU64(ir.Unsigned(ir.W8), 1)
	bd.WriteRegister(11, "SENTINEL", one)
	bd.Return(ir.Ref{})

	initSystem := ir.NewFunction("__InitSystem", ir.Unsigned(ir.W8), nil)
	initSystemEntry := initSystem.AddBlock()
	initSystem.Entry = initSystemEntry
	bd2 := ir.NewBuilder(initSystem.Block(initSystemEntry))
	seven := bd2.ConstantU64(ir.Unsigned(ir.W8), 7)
	bd2.WriteRegister(11, "SENTINEL", seven)
	bd2.Return(ir.Ref{})

	m.Functions = map[string]*ir.Function{
		"borealis_register_init": regInit,
		"__InitSystem":           initSystem,
	}

	regs := model.NewRegisterFile(m)
	require.NoError(t, bootInitialize(m, regs))

	require.Equal(t, uint8(7), regs.Read8(11), "__InitSystem must run after borealis_register_init and win")
}
