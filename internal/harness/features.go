// Feature configuration at boot, grounded on
// original_source/brig/kernel/src/dbt/mod.rs's init_register_file and
// configure_features: every guest feature register present on the
// real hardware is named in the "features" table below; a core only
// ever turns on the fixed, small "enabled" subset (an AArch64-only,
// ELx-complete, no-pointer-authentication policy this translator
// targets), writing 0 for everything else. A model may declare only a
// subset of these registers (test fixtures usually declare none), so
// configureFeatures skips any name its Registers map doesn't have.
package harness

import (
	"fmt"

	"github.com/corvid-dbt/corvid/internal/interp"
	"github.com/corvid-dbt/corvid/internal/model"
)

// features lists every FEAT_*_IMPLEMENTED (and v8A*/v9A* architecture
// version) register this translator knows how to classify, mirroring
// the original's fixed feature-name table.
var features = []string{
	"FEAT_AA32EL0_IMPLEMENTED",
	"FEAT_AA32EL1_IMPLEMENTED",
	"FEAT_AA32EL2_IMPLEMENTED",
	"FEAT_AA32EL3_IMPLEMENTED",
	"FEAT_AA64EL0_IMPLEMENTED",
	"FEAT_AA64EL1_IMPLEMENTED",
	"FEAT_AA64EL2_IMPLEMENTED",
	"FEAT_AA64EL3_IMPLEMENTED",
	"FEAT_EL0_IMPLEMENTED",
	"FEAT_EL1_IMPLEMENTED",
	"FEAT_EL2_IMPLEMENTED",
	"FEAT_EL3_IMPLEMENTED",
	"FEAT_AES_IMPLEMENTED",
	"FEAT_AdvSIMD_IMPLEMENTED",
	"FEAT_CSV2_1p1_IMPLEMENTED",
	"FEAT_CSV2_1p2_IMPLEMENTED",
	"FEAT_CSV2_2_IMPLEMENTED",
	"FEAT_CSV2_3_IMPLEMENTED",
	"FEAT_DoubleLock_IMPLEMENTED",
	"FEAT_ETMv4_IMPLEMENTED",
	"FEAT_ETMv4p1_IMPLEMENTED",
	"FEAT_ETMv4p2_IMPLEMENTED",
	"FEAT_ETMv4p3_IMPLEMENTED",
	"FEAT_ETMv4p4_IMPLEMENTED",
	"FEAT_ETMv4p5_IMPLEMENTED",
	"FEAT_ETMv4p6_IMPLEMENTED",
	"FEAT_ETS2_IMPLEMENTED",
	"FEAT_FP_IMPLEMENTED",
	"FEAT_GICv3_IMPLEMENTED",
	"FEAT_GICv3_LEGACY_IMPLEMENTED",
	"FEAT_GICv3_TDIR_IMPLEMENTED",
	"FEAT_GICv3p1_IMPLEMENTED",
	"FEAT_GICv4_IMPLEMENTED",
	"FEAT_GICv4p1_IMPLEMENTED",
	"FEAT_IVIPT_IMPLEMENTED",
	"FEAT_PCSRv8_IMPLEMENTED",
	"FEAT_PMULL_IMPLEMENTED",
	"FEAT_PMUv3_IMPLEMENTED",
	"FEAT_PMUv3_EXT_IMPLEMENTED",
	"FEAT_PMUv3_EXT32_IMPLEMENTED",
	"FEAT_SHA1_IMPLEMENTED",
	"FEAT_SHA256_IMPLEMENTED",
	"FEAT_TRC_EXT_IMPLEMENTED",
	"FEAT_TRC_SR_IMPLEMENTED",
	"FEAT_nTLBPA_IMPLEMENTED",
	"FEAT_CRC32_IMPLEMENTED",
	"FEAT_Debugv8p1_IMPLEMENTED",
	"FEAT_HAFDBS_IMPLEMENTED",
	"FEAT_HPDS_IMPLEMENTED",
	"FEAT_LOR_IMPLEMENTED",
	"FEAT_LSE_IMPLEMENTED",
	"FEAT_PAN_IMPLEMENTED",
	"FEAT_PMUv3p1_IMPLEMENTED",
	"FEAT_RDM_IMPLEMENTED",
	"FEAT_VHE_IMPLEMENTED",
	"FEAT_VMID16_IMPLEMENTED",
	"FEAT_AA32BF16_IMPLEMENTED",
	"FEAT_AA32HPD_IMPLEMENTED",
	"FEAT_AA32I8MM_IMPLEMENTED",
	"FEAT_ASMv8p2_IMPLEMENTED",
	"FEAT_DPB_IMPLEMENTED",
	"FEAT_Debugv8p2_IMPLEMENTED",
	"FEAT_EDHSR_IMPLEMENTED",
	"FEAT_F32MM_IMPLEMENTED",
	"FEAT_F64MM_IMPLEMENTED",
	"FEAT_FP16_IMPLEMENTED",
	"FEAT_HPDS2_IMPLEMENTED",
	"FEAT_I8MM_IMPLEMENTED",
	"FEAT_IESB_IMPLEMENTED",
	"FEAT_LPA_IMPLEMENTED",
	"FEAT_LSMAOC_IMPLEMENTED",
	"FEAT_LVA_IMPLEMENTED",
	"FEAT_MPAM_IMPLEMENTED",
	"FEAT_PAN2_IMPLEMENTED",
	"FEAT_PCSRv8p2_IMPLEMENTED",
	"FEAT_RAS_IMPLEMENTED",
	"FEAT_SHA3_IMPLEMENTED",
	"FEAT_SHA512_IMPLEMENTED",
	"FEAT_SM3_IMPLEMENTED",
	"FEAT_SM4_IMPLEMENTED",
	"FEAT_SPE_IMPLEMENTED",
	"FEAT_SVE_IMPLEMENTED",
	"FEAT_TTCNP_IMPLEMENTED",
	"FEAT_UAO_IMPLEMENTED",
	"FEAT_VPIPT_IMPLEMENTED",
	"FEAT_XNX_IMPLEMENTED",
	"FEAT_CCIDX_IMPLEMENTED",
	"FEAT_CONSTPACFIELD_IMPLEMENTED",
	"FEAT_EPAC_IMPLEMENTED",
	"FEAT_FCMA_IMPLEMENTED",
	"FEAT_FPAC_IMPLEMENTED",
	"FEAT_FPACCOMBINE_IMPLEMENTED",
	"FEAT_JSCVT_IMPLEMENTED",
	"FEAT_LRCPC_IMPLEMENTED",
	"FEAT_NV_IMPLEMENTED",
	"FEAT_PACIMP_IMPLEMENTED",
	"FEAT_PACQARMA3_IMPLEMENTED",
	"FEAT_PACQARMA5_IMPLEMENTED",
	"FEAT_PAuth_IMPLEMENTED",
	"FEAT_SPEv1p1_IMPLEMENTED",
	"FEAT_AMUv1_IMPLEMENTED",
	"FEAT_BBM_IMPLEMENTED",
	"FEAT_CNTSC_IMPLEMENTED",
	"FEAT_DIT_IMPLEMENTED",
	"FEAT_Debugv8p4_IMPLEMENTED",
	"FEAT_DotProd_IMPLEMENTED",
	"FEAT_DoubleFault_IMPLEMENTED",
	"FEAT_FHM_IMPLEMENTED",
	"FEAT_FlagM_IMPLEMENTED",
	"FEAT_IDST_IMPLEMENTED",
	"FEAT_LRCPC2_IMPLEMENTED",
	"FEAT_LSE2_IMPLEMENTED",
	"FEAT_NV2_IMPLEMENTED",
	"FEAT_PMUv3p4_IMPLEMENTED",
	"FEAT_RASSAv1p1_IMPLEMENTED",
	"FEAT_RASv1p1_IMPLEMENTED",
	"FEAT_S2FWB_IMPLEMENTED",
	"FEAT_SEL2_IMPLEMENTED",
	"FEAT_TLBIOS_IMPLEMENTED",
	"FEAT_TLBIRANGE_IMPLEMENTED",
	"FEAT_TRF_IMPLEMENTED",
	"FEAT_TTL_IMPLEMENTED",
	"FEAT_TTST_IMPLEMENTED",
	"FEAT_BTI_IMPLEMENTED",
	"FEAT_CSV2_IMPLEMENTED",
	"FEAT_CSV3_IMPLEMENTED",
	"FEAT_DPB2_IMPLEMENTED",
	"FEAT_E0PD_IMPLEMENTED",
	"FEAT_EVT_IMPLEMENTED",
	"FEAT_ExS_IMPLEMENTED",
	"FEAT_FRINTTS_IMPLEMENTED",
	"FEAT_FlagM2_IMPLEMENTED",
	"FEAT_GTG_IMPLEMENTED",
	"FEAT_MTE_IMPLEMENTED",
	"FEAT_MTE2_IMPLEMENTED",
	"FEAT_PMUv3p5_IMPLEMENTED",
	"FEAT_RNG_IMPLEMENTED",
	"FEAT_RNG_TRAP_IMPLEMENTED",
	"FEAT_SB_IMPLEMENTED",
	"FEAT_SPECRES_IMPLEMENTED",
	"FEAT_SSBS_IMPLEMENTED",
	"FEAT_SSBS2_IMPLEMENTED",
	"FEAT_AMUv1p1_IMPLEMENTED",
	"FEAT_BF16_IMPLEMENTED",
	"FEAT_DGH_IMPLEMENTED",
	"FEAT_ECV_IMPLEMENTED",
	"FEAT_FGT_IMPLEMENTED",
	"FEAT_HPMN0_IMPLEMENTED",
	"FEAT_MPAMv0p1_IMPLEMENTED",
	"FEAT_MPAMv1p1_IMPLEMENTED",
	"FEAT_MTPMU_IMPLEMENTED",
	"FEAT_PAuth2_IMPLEMENTED",
	"FEAT_TWED_IMPLEMENTED",
	"FEAT_AFP_IMPLEMENTED",
	"FEAT_EBF16_IMPLEMENTED",
	"FEAT_HCX_IMPLEMENTED",
	"FEAT_LPA2_IMPLEMENTED",
	"FEAT_LS64_IMPLEMENTED",
	"FEAT_LS64_ACCDATA_IMPLEMENTED",
	"FEAT_LS64_V_IMPLEMENTED",
	"FEAT_MTE3_IMPLEMENTED",
	"FEAT_PAN3_IMPLEMENTED",
	"FEAT_PMUv3p7_IMPLEMENTED",
	"FEAT_RPRES_IMPLEMENTED",
	"FEAT_SPEv1p2_IMPLEMENTED",
	"FEAT_WFxT_IMPLEMENTED",
	"FEAT_XS_IMPLEMENTED",
	"FEAT_CMOW_IMPLEMENTED",
	"FEAT_Debugv8p8_IMPLEMENTED",
	"FEAT_GICv3_NMI_IMPLEMENTED",
	"FEAT_HBC_IMPLEMENTED",
	"FEAT_MOPS_IMPLEMENTED",
	"FEAT_NMI_IMPLEMENTED",
	"FEAT_PMUv3_EXT64_IMPLEMENTED",
	"FEAT_PMUv3_TH_IMPLEMENTED",
	"FEAT_PMUv3p8_IMPLEMENTED",
	"FEAT_SCTLR2_IMPLEMENTED",
	"FEAT_SPEv1p3_IMPLEMENTED",
	"FEAT_TCR2_IMPLEMENTED",
	"FEAT_TIDCP1_IMPLEMENTED",
	"FEAT_ADERR_IMPLEMENTED",
	"FEAT_AIE_IMPLEMENTED",
	"FEAT_ANERR_IMPLEMENTED",
	"FEAT_CLRBHB_IMPLEMENTED",
	"FEAT_CSSC_IMPLEMENTED",
	"FEAT_Debugv8p9_IMPLEMENTED",
	"FEAT_DoubleFault2_IMPLEMENTED",
	"FEAT_ECBHB_IMPLEMENTED",
	"FEAT_FGT2_IMPLEMENTED",
	"FEAT_HAFT_IMPLEMENTED",
	"FEAT_LRCPC3_IMPLEMENTED",
	"FEAT_MTE4_IMPLEMENTED",
	"FEAT_MTE_ASYM_FAULT_IMPLEMENTED",
	"FEAT_MTE_ASYNC_IMPLEMENTED",
	"FEAT_MTE_CANONICAL_TAGS_IMPLEMENTED",
	"FEAT_MTE_NO_ADDRESS_TAGS_IMPLEMENTED",
	"FEAT_MTE_PERM_IMPLEMENTED",
	"FEAT_MTE_STORE_ONLY_IMPLEMENTED",
	"FEAT_MTE_TAGGED_FAR_IMPLEMENTED",
	"FEAT_PCSRv8p9_IMPLEMENTED",
	"FEAT_PFAR_IMPLEMENTED",
	"FEAT_PMUv3_EDGE_IMPLEMENTED",
	"FEAT_PMUv3_ICNTR_IMPLEMENTED",
	"FEAT_PMUv3_SS_IMPLEMENTED",
	"FEAT_PMUv3p9_IMPLEMENTED",
	"FEAT_PRFMSLC_IMPLEMENTED",
	"FEAT_RASSAv2_IMPLEMENTED",
	"FEAT_RASv2_IMPLEMENTED",
	"FEAT_RPRFM_IMPLEMENTED",
	"FEAT_S1PIE_IMPLEMENTED",
	"FEAT_S1POE_IMPLEMENTED",
	"FEAT_S2PIE_IMPLEMENTED",
	"FEAT_S2POE_IMPLEMENTED",
	"FEAT_SPECRES2_IMPLEMENTED",
	"FEAT_SPE_CRR_IMPLEMENTED",
	"FEAT_SPE_FDS_IMPLEMENTED",
	"FEAT_SPEv1p4_IMPLEMENTED",
	"FEAT_SPMU_IMPLEMENTED",
	"FEAT_THE_IMPLEMENTED",
	"FEAT_DoPD_IMPLEMENTED",
	"FEAT_ETE_IMPLEMENTED",
	"FEAT_SVE2_IMPLEMENTED",
	"FEAT_SVE_AES_IMPLEMENTED",
	"FEAT_SVE_BitPerm_IMPLEMENTED",
	"FEAT_SVE_PMULL128_IMPLEMENTED",
	"FEAT_SVE_SHA3_IMPLEMENTED",
	"FEAT_SVE_SM4_IMPLEMENTED",
	"FEAT_TME_IMPLEMENTED",
	"FEAT_TRBE_IMPLEMENTED",
	"FEAT_ETEv1p1_IMPLEMENTED",
	"FEAT_BRBE_IMPLEMENTED",
	"FEAT_ETEv1p2_IMPLEMENTED",
	"FEAT_RME_IMPLEMENTED",
	"FEAT_SME_IMPLEMENTED",
	"FEAT_SME_F64F64_IMPLEMENTED",
	"FEAT_SME_FA64_IMPLEMENTED",
	"FEAT_SME_I16I64_IMPLEMENTED",
	"FEAT_BRBEv1p1_IMPLEMENTED",
	"FEAT_MEC_IMPLEMENTED",
	"FEAT_SME2_IMPLEMENTED",
	"FEAT_ABLE_IMPLEMENTED",
	"FEAT_CHK_IMPLEMENTED",
	"FEAT_D128_IMPLEMENTED",
	"FEAT_EBEP_IMPLEMENTED",
	"FEAT_ETEv1p3_IMPLEMENTED",
	"FEAT_GCS_IMPLEMENTED",
	"FEAT_ITE_IMPLEMENTED",
	"FEAT_LSE128_IMPLEMENTED",
	"FEAT_LVA3_IMPLEMENTED",
	"FEAT_SEBEP_IMPLEMENTED",
	"FEAT_SME2p1_IMPLEMENTED",
	"FEAT_SME_F16F16_IMPLEMENTED",
	"FEAT_SVE2p1_IMPLEMENTED",
	"FEAT_SVE_B16B16_IMPLEMENTED",
	"FEAT_SYSINSTR128_IMPLEMENTED",
	"FEAT_SYSREG128_IMPLEMENTED",
	"FEAT_TRBE_EXT_IMPLEMENTED",
	"FEAT_TRBE_MPAM_IMPLEMENTED",
	"v8Ap0_IMPLEMENTED",
	"v8Ap1_IMPLEMENTED",
	"v8Ap2_IMPLEMENTED",
	"v8Ap3_IMPLEMENTED",
	"v8Ap4_IMPLEMENTED",
	"v8Ap5_IMPLEMENTED",
	"v8Ap6_IMPLEMENTED",
	"v8Ap7_IMPLEMENTED",
	"v8Ap8_IMPLEMENTED",
	"v8Ap9_IMPLEMENTED",
	"v9Ap0_IMPLEMENTED",
	"v9Ap1_IMPLEMENTED",
	"v9Ap2_IMPLEMENTED",
	"v9Ap3_IMPLEMENTED",
	"v9Ap4_IMPLEMENTED",
}

// enabled is the fixed policy of which features this translator
// reports as implemented, mirroring the original's "enabled" set.
var enabled = map[string]bool{
	"FEAT_AA64EL0_IMPLEMENTED": true,
	"FEAT_AA64EL1_IMPLEMENTED": true,
	"FEAT_AA64EL2_IMPLEMENTED": true,
	"FEAT_AA64EL3_IMPLEMENTED": true,
	"FEAT_D128_IMPLEMENTED":    true,
	"FEAT_LVA3_IMPLEMENTED":    true,
}

// configureFeatures writes 1 to every register named in enabled and 0
// to every other register named in features, matching the original's
// configure_features table-walk. Registers the model doesn't declare
// are skipped rather than treated as an error, since minimal test
// models need not carry the full AArch64 feature-register set.
func configureFeatures(m *model.Model, regs *model.RegisterFile) {
	for _, name := range features {
		rd, ok := m.Registers[name]
		if !ok {
			continue
		}
		v := uint8(0)
		if enabled[name] {
			v = 1
		}
		regs.Write8(rd.Offset, v)
	}
}

// bootInitialize runs the three-step boot sequence
// init_register_file/configure_features/__InitSystem performs on a
// fresh guest register file before a Core's first Step: interpret
// borealis_register_init to establish the reset values a real
// AArch64 boot ROM would, walk the fixed feature-register policy
// table, then interpret __InitSystem to run whatever ID-register and
// exception-state setup the model's own decode graph expects at
// cold boot (spec.md §1.6, §4.7).
//
// Both interpreted calls are optional: a model that doesn't define
// borealis_register_init or __InitSystem (as most of this package's
// minimal test fixtures don't) skips that step rather than erroring,
// since interp.CallByName has no fallback for a name that isn't
// there and a harness boot sequence shouldn't require every model to
// carry functions only full AArch64 models define.
func bootInitialize(m *model.Model, regs *model.RegisterFile) error {
	if _, ok := m.Functions["borealis_register_init"]; ok {
		if _, err := interp.New(m, regs).CallByName("borealis_register_init", nil); err != nil {
			return fmt.Errorf("harness: interpreting borealis_register_init: %w", err)
		}
	}

	configureFeatures(m, regs)

	if _, ok := m.Functions["__InitSystem"]; ok {
		if _, err := interp.New(m, regs).CallByName("__InitSystem", nil); err != nil {
			return fmt.Errorf("harness: interpreting __InitSystem: %w", err)
		}
	}

	return nil
}
