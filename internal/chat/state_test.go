package chat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func sampleSession() *Session {
	s := NewSession()
	s.SetWorkDir("/home/user/project")
	s.AddUserText("read the readme")
	s.AddContent(&genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
		genai.NewPartFromText("Reading it now."),
		{FunctionCall: &genai.FunctionCall{
			ID:   "toolu_1",
			Name: "read_file",
			Args: map[string]any{"path": "README.md"},
		}},
	}})
	s.AddContent(&genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{
		{FunctionResponse: &genai.FunctionResponse{
			ID:       "toolu_1",
			Name:     "read_file",
			Response: map[string]any{"success": true, "content": "# Project"},
		}},
	}})
	s.AddContent(&genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{0x89, 0x50}}},
	}})
	s.AddArtifact("/home/user/project/out.txt")
	return s
}

func TestStateRoundTrip(t *testing.T) {
	original := sampleSession()

	restored, err := RestoreState(original.CaptureState())
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.WorkDir(), restored.WorkDir())
	assert.Equal(t, original.Artifacts(), restored.Artifacts())
	require.Equal(t, original.MessageCount(), restored.MessageCount())

	history := restored.History()
	assert.Equal(t, genai.RoleUser, history[0].Role)
	assert.Equal(t, genai.RoleModel, history[1].Role)
	assert.Equal(t, "read the readme", history[0].Parts[0].Text)

	call := history[1].Parts[1].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "toolu_1", call.ID)
	assert.Equal(t, "README.md", call.Args["path"])

	resp := history[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "# Project", resp.Response["content"])

	img := history[3].Parts[0].InlineData
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, []byte{0x89, 0x50}, img.Data)
}

func TestStoreSaveLoadDelete(t *testing.T) {
	store, err := NewStoreAt(t.TempDir())
	require.NoError(t, err)

	session := sampleSession()
	require.NoError(t, store.Save(session))

	loaded, err := store.Load(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, session.MessageCount(), loaded.MessageCount())

	require.NoError(t, store.Delete(session.ID))
	_, err = store.Load(session.ID)
	assert.Error(t, err)
}

func TestStoreListSkipsPointerFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStoreAt(dir)
	require.NoError(t, err)

	first := sampleSession()
	second := NewSession()
	second.AddUserText("hi")
	require.NoError(t, store.Save(first))
	require.NoError(t, store.Save(second))
	require.NoError(t, store.SetCurrent("cli", second.ID))

	infos, err := store.List()
	require.NoError(t, err)
	assert.Len(t, infos, 2, "the current-pointer file is not a session")

	assert.Equal(t, second.ID, store.Current("cli"))
	assert.Empty(t, store.Current("tray"))
}

func TestStoreCorruptSessionFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStoreAt(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))
	_, err = store.Load("bad")
	assert.ErrorContains(t, err, "corrupt")
}

func TestSessionClearKeepsIdentity(t *testing.T) {
	s := sampleSession()
	id := s.ID
	s.Clear()

	assert.Equal(t, id, s.ID)
	assert.Zero(t, s.MessageCount())
}
