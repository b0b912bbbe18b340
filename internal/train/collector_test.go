package train_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/runfs/runfstest"
	"github.com/mattjoyce/ckptkeep/internal/train"
	"github.com/mattjoyce/ckptkeep/internal/train/mocks"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fixture lays out a config dir for model gpt2 on dataset arcc whose
// finetune config resumes from <save>/gpt2_lora-rank_2_pretrain.
func fixture(t *testing.T) train.Plan {
	t.Helper()
	root := t.TempDir()
	configDir := filepath.Join(root, "collect_scripts", "ARC-c")
	saveDir := filepath.Join(root, "saves", "ARC-c")
	require.NoError(t, os.MkdirAll(saveDir, 0o755))

	write(t, filepath.Join(configDir, "gpt2_arcc_pretrain.yaml"), "output_dir: "+filepath.Join(saveDir, "gpt2_lora-rank_2_pretrain")+"\n")
	write(t, filepath.Join(configDir, "gpt2_arcc_finetune.yaml"),
		"output_dir: out\nresume_from_checkpoint: "+filepath.Join(saveDir, "gpt2_lora-rank_2_pretrain")+"\n")

	return train.Plan{
		Dataset:   "arcc",
		ConfigDir: configDir,
		SaveDir:   saveDir,
		Models:    []string{"gpt2"},
		Ranks:     []int{2, 4},
	}
}

func newCollector(l train.Launcher, opts ...train.Option) *train.Collector {
	return train.NewCollector(l, append([]train.Option{train.WithLogger(log.Discard())}, opts...)...)
}

func TestCollectorPretrainsOnlyMissingRanks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plan := fixture(t)
	// Rank 4 already has a pretrain checkpoint with trainer state.
	rank4 := filepath.Join(plan.SaveDir, "gpt2_lora-rank_4_pretrain")
	write(t, filepath.Join(rank4, "trainer_state.json"), `{"save_steps": 50}`)

	launcher := mocks.NewMockLauncher(ctrl)
	gomock.InOrder(
		launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_pretrain.yaml", 2).DoAndReturn(func(context.Context, string, int) error {
			write(t, filepath.Join(plan.SaveDir, "gpt2_lora-rank_2_pretrain", "trainer_state.json"), `{"save_steps": 50}`)
			return nil
		}),
		launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_finetune.yaml", 2).Return(nil),
		launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_finetune.yaml", 4).Return(nil),
	)

	rep, err := newCollector(launcher).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pretrained)
	assert.Equal(t, 1, rep.Resumed)
	assert.Equal(t, 2, rep.Finetuned)
	assert.Empty(t, rep.Failures)

	data, err := os.ReadFile(filepath.Join(rank4, "trainer_state.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"save_steps": 1`)

	// Pretrain output is removed once the model is done.
	assert.NoDirExists(t, rank4)
	assert.NoDirExists(t, filepath.Join(plan.SaveDir, "gpt2_lora-rank_2_pretrain"))
	assert.Len(t, rep.PretrainRemoved, 2)
}

func TestCollectorFailuresDoNotStopOtherRanks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plan := fixture(t)
	plan.Ranks = []int{2, 4, 8}

	launcher := mocks.NewMockLauncher(ctrl)
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_pretrain.yaml", 2).Return(errors.New("exit code 1"))
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_pretrain.yaml", 4).Return(nil)
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_finetune.yaml", 4).Return(errors.New("exit code 2"))
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_pretrain.yaml", 8).Return(nil)
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_finetune.yaml", 8).Return(nil)

	rep, err := newCollector(launcher).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Pretrained)
	assert.Equal(t, 1, rep.Finetuned)

	want := []train.Failure{
		{Model: "gpt2", Rank: 2, Phase: train.PhasePretrain, Error: "exit code 1"},
		{Model: "gpt2", Rank: 4, Phase: train.PhaseFinetune, Error: "exit code 2"},
	}
	if diff := cmp.Diff(want, rep.Failures); diff != "" {
		t.Fatalf("failures mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectorSkipsModelWithoutConfigs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plan := fixture(t)
	plan.Models = []string{"bert", "gpt2"}
	plan.Ranks = []int{2}

	launcher := mocks.NewMockLauncher(ctrl)
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_pretrain.yaml", 2).Return(nil)
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_finetune.yaml", 2).Return(nil)

	rep, err := newCollector(launcher).Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "bert", rep.Failures[0].Model)
	assert.Equal(t, train.PhaseConfig, rep.Failures[0].Phase)
	assert.Equal(t, 1, rep.Finetuned)
}

func TestCollectorWithoutResumePretrainsEveryRank(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plan := fixture(t)
	write(t, filepath.Join(plan.ConfigDir, "gpt2_arcc_finetune.yaml"), "output_dir: out\nresume_from_checkpoint: false\n")

	launcher := mocks.NewMockLauncher(ctrl)
	for _, rank := range plan.Ranks {
		launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_pretrain.yaml", rank).Return(nil)
		launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_finetune.yaml", rank).Return(nil)
	}

	rep, err := newCollector(launcher).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Pretrained)
	assert.Zero(t, rep.Resumed)
}

func TestCollectorCorruptTrainerStateSkipsFinetune(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plan := fixture(t)
	plan.Ranks = []int{2}
	write(t, filepath.Join(plan.SaveDir, "gpt2_lora-rank_2_pretrain", "trainer_state.json"), "{broken")

	launcher := mocks.NewMockLauncher(ctrl) // no launches expected

	rep, err := newCollector(launcher).Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, train.PhaseSaveSteps, rep.Failures[0].Phase)
}

func TestCollectorTrainerStateFailureOnlyFailsItsRank(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plan := fixture(t)
	write(t, filepath.Join(plan.SaveDir, "gpt2_lora-rank_2_pretrain", "trainer_state.json"), "{broken")
	write(t, filepath.Join(plan.SaveDir, "gpt2_lora-rank_4_pretrain", "trainer_state.json"), `{"save_steps": 50}`)

	launcher := mocks.NewMockLauncher(ctrl)
	launcher.EXPECT().Launch(gomock.Any(), gomock.Any(), 4).Return(nil).Times(1)

	rep, err := newCollector(launcher).Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, 2, rep.Failures[0].Rank)
	assert.Equal(t, train.PhaseSaveSteps, rep.Failures[0].Phase)
	assert.Equal(t, 1, rep.Finetuned)
}

func TestCollectorCleanupFailureIsRecorded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plan := fixture(t)
	plan.Ranks = []int{2}
	pretrain := filepath.Join(plan.SaveDir, "gpt2_lora-rank_2_pretrain")
	write(t, filepath.Join(pretrain, "trainer_state.json"), `{}`)

	launcher := mocks.NewMockLauncher(ctrl)
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_finetune.yaml", 2).Return(nil)

	fsys := runfstest.New()
	fsys.Fail("remove-all", pretrain)

	rep, err := newCollector(launcher, train.WithFS(fsys)).Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, train.PhaseCleanup, rep.Failures[0].Phase)
	assert.Empty(t, rep.PretrainRemoved)
}

func TestCollectorStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plan := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	launcher := mocks.NewMockLauncher(ctrl)
	launcher.EXPECT().Launch(gomock.Any(), "gpt2_arcc_pretrain.yaml", 2).DoAndReturn(func(context.Context, string, int) error {
		cancel()
		return context.Canceled
	})

	_, err := newCollector(launcher).Run(ctx, plan)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectorRejectsMissingConfigDir(t *testing.T) {
	plan := train.Plan{ConfigDir: filepath.Join(t.TempDir(), "nope")}
	_, err := newCollector(nil).Run(context.Background(), plan)
	assert.Error(t, err)
}
