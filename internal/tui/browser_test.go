package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ckptkeep/internal/history"
)

type fakeSource struct {
	runs    []history.Run
	detail  map[string]*history.Run
	listErr error
}

func (f *fakeSource) List(_ context.Context, limit int) ([]history.Run, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeSource) Get(_ context.Context, id string) (*history.Run, error) {
	if r, ok := f.detail[id]; ok {
		return r, nil
	}
	return nil, history.ErrRunNotFound
}

func step(t *testing.T, m Browser, msg tea.Msg) (Browser, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Browser), cmd
}

func sizedBrowser(t *testing.T, src RunSource) Browser {
	t.Helper()
	m := NewBrowser(src, 10)
	m, _ = step(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = step(t, m, m.loadRuns()())
	return m
}

func TestBrowserListsRuns(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{runs: []history.Run{
		{ID: "a", Kind: history.KindBatch, Target: "/data/ARC-c", StartedAt: started, Succeeded: 2, Skipped: 1, BytesReclaimed: 2_000_000},
		{ID: "b", Kind: history.KindClean, Target: "/data/ARC-c/r1", StartedAt: started, Failed: 1},
	}}

	m := sizedBrowser(t, src)
	require.Len(t, m.runs, 2)

	view := m.View()
	assert.Contains(t, view, "Cleanup runs (2)")
	assert.Contains(t, view, "/data/ARC-c")
	assert.Contains(t, view, "2/1/0")
	assert.Contains(t, view, "2.0 MB")
}

func TestBrowserShowsDetailAndReturns(t *testing.T) {
	run := history.Run{ID: "a", Kind: history.KindBatch, Target: "/data/ARC-c", Succeeded: 1, Failed: 1}
	detail := run
	detail.Outcomes = []history.Outcome{
		{Name: "r1", Status: "succeeded", Deleted: 3, Extracted: 2},
		{Name: "r2", Status: "failed", Reason: "exit code: 1"},
	}
	src := &fakeSource{runs: []history.Run{run}, detail: map[string]*history.Run{"a": &detail}}

	m := sizedBrowser(t, src)
	m, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = step(t, m, cmd())

	require.NotNil(t, m.showing)
	view := m.View()
	assert.Contains(t, view, "r2")
	assert.Contains(t, view, "exit code: 1")

	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, m.showing)
}

func TestBrowserReportsErrors(t *testing.T) {
	m := sizedBrowser(t, &fakeSource{listErr: errors.New("database is locked")})
	assert.Contains(t, m.View(), "database is locked")

	m.runs = []history.Run{{ID: "gone"}}
	m.updateTable()
	m, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = step(t, m, cmd())
	assert.Nil(t, m.showing)
	assert.Contains(t, m.lastError, history.ErrRunNotFound.Error())
}

func TestBrowserQuit(t *testing.T) {
	m := NewBrowser(&fakeSource{}, 0)
	_, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestThemeStatusStyle(t *testing.T) {
	th := NewDefaultTheme()
	assert.Equal(t, th.StatusOK.Render("x"), th.StatusStyle("succeeded").Render("x"))
	assert.Equal(t, th.StatusFailed.Render("x"), th.StatusStyle("failed").Render("x"))
	assert.Equal(t, th.StatusSkipped.Render("x"), th.StatusStyle("skipped").Render("x"))
}
