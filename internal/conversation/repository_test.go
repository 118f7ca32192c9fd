// ABOUTME: Tests for the conversation Repository
// ABOUTME: Covers active pointer invariants, title derivation, merges, persistence hook, restore

package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPersister captures every saved state.
type recordingPersister struct {
	mu     sync.Mutex
	states []State
	err    error
}

func (p *recordingPersister) Save(_ context.Context, state State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
	return p.err
}

func (p *recordingPersister) last() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[len(p.states)-1]
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

func newTestRepository(t *testing.T) (*Repository, *recordingPersister) {
	t.Helper()
	p := &recordingPersister{}
	repo := NewRepository(p, nil)
	t.Cleanup(repo.Close)
	return repo, p
}

func userMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func TestRepository_CreateConversation_PrependsAndActivates(t *testing.T) {
	repo, _ := newTestRepository(t)

	first := repo.CreateConversation()
	second := repo.CreateConversation()

	assert.NotEqual(t, first, second)
	assert.Equal(t, second, repo.ActiveID())

	convs := repo.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, second, convs[0].ID, "newest conversation should be listed first")
	assert.Equal(t, first, convs[1].ID)
	assert.Equal(t, DefaultTitle, convs[0].Title)
	assert.Empty(t, convs[0].Messages)

	active := repo.Active()
	require.NotNil(t, active)
	assert.Equal(t, second, active.ID)
}

func TestRepository_DeleteActive_ClearsPointer(t *testing.T) {
	repo, _ := newTestRepository(t)

	keep := repo.CreateConversation()
	drop := repo.CreateConversation()

	require.True(t, repo.DeleteConversation(drop))
	assert.Empty(t, repo.ActiveID(), "deleting the active conversation must not auto-select another")
	assert.Nil(t, repo.Active())
	assert.NotNil(t, repo.Conversation(keep))
	assert.Nil(t, repo.Conversation(drop))
}

func TestRepository_DeleteInactive_KeepsPointer(t *testing.T) {
	repo, _ := newTestRepository(t)

	other := repo.CreateConversation()
	active := repo.CreateConversation()

	repo.DeleteConversation(other)
	assert.Equal(t, active, repo.ActiveID())
}

func TestRepository_DeleteUnknown_IsNoop(t *testing.T) {
	repo, p := newTestRepository(t)
	repo.CreateConversation()
	saves := p.count()

	assert.False(t, repo.DeleteConversation("missing"))
	assert.Equal(t, saves, p.count())
}

func TestRepository_SetActive_UnknownYieldsNil(t *testing.T) {
	repo, _ := newTestRepository(t)
	id := repo.CreateConversation()

	repo.SetActive("does-not-exist")
	assert.Empty(t, repo.ActiveID())
	assert.Nil(t, repo.Active())

	repo.SetActive(id)
	assert.Equal(t, id, repo.ActiveID())
}

func TestRepository_ActivePointerInvariant_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		repo := NewRepository(nil, nil)
		var ids []string

		for step := 0; step < 40; step++ {
			switch rng.Intn(3) {
			case 0:
				ids = append(ids, repo.CreateConversation())
			case 1:
				if len(ids) > 0 {
					repo.DeleteConversation(ids[rng.Intn(len(ids))])
				}
			case 2:
				if len(ids) > 0 {
					repo.SetActive(ids[rng.Intn(len(ids))])
				}
			}

			activeID := repo.ActiveID()
			if activeID != "" {
				require.NotNil(t, repo.Conversation(activeID), "run %d step %d: active id points at a missing conversation", run, step)
			}
		}
		repo.Close()
	}
}

func TestRepository_AppendMessage_DerivesTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "Draft a plan", "Draft a plan"},
		{"exactly forty", strings.Repeat("a", 40), strings.Repeat("a", 40)},
		{"forty one", strings.Repeat("b", 41), strings.Repeat("b", 40) + "..."},
		{"multibyte", strings.Repeat("é", 45), strings.Repeat("é", 40) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := newTestRepository(t)
			id := repo.CreateConversation()

			require.True(t, repo.AppendMessage(id, userMessage(tt.content)))
			assert.Equal(t, tt.want, repo.Conversation(id).Title)
		})
	}
}

func TestRepository_AppendMessage_TitleOnlyFromFirstMessage(t *testing.T) {
	repo, _ := newTestRepository(t)
	id := repo.CreateConversation()

	repo.AppendMessage(id, userMessage("first prompt"))
	repo.AppendMessage(id, userMessage("second prompt"))

	assert.Equal(t, "first prompt", repo.Conversation(id).Title)
}

func TestRepository_AppendMessage_KeepsUserTitle(t *testing.T) {
	repo, _ := newTestRepository(t)
	id := repo.CreateConversation()

	require.True(t, repo.RenameConversation(id, "My trailer"))
	repo.AppendMessage(id, userMessage("a prompt"))

	assert.Equal(t, "My trailer", repo.Conversation(id).Title)
}

func TestRepository_AppendMessage_UnknownConversation(t *testing.T) {
	repo, _ := newTestRepository(t)
	assert.False(t, repo.AppendMessage("missing", userMessage("hi")))
}

func TestRepository_AppendMessage_NeverReaddsID(t *testing.T) {
	repo, _ := newTestRepository(t)
	id := repo.CreateConversation()

	msg := Message{ID: "m1", Role: RoleUser, Content: "one"}
	require.True(t, repo.AppendMessage(id, msg))
	msg.Content = "two"
	assert.False(t, repo.AppendMessage(id, msg))

	conv := repo.Conversation(id)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "one", conv.Messages[0].Content)
}

func TestRepository_UpdateMessage_MergesFields(t *testing.T) {
	repo, _ := newTestRepository(t)
	convID := repo.CreateConversation()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.AppendMessage(convID, Message{
		ID:        "a1",
		Role:      RoleAssistant,
		Content:   "Initializing generation...",
		Status:    StatusPending,
		Progress:  Ptr(0),
		Timestamp: created,
	})

	ok := repo.UpdateMessage(convID, "a1", MessagePatch{
		Status:   Ptr(StatusProcessing),
		Progress: Ptr(40),
		Content:  Ptr("Rendering..."),
	})
	require.True(t, ok)

	msg, found := repo.Message(convID, "a1")
	require.True(t, found)
	assert.Equal(t, StatusProcessing, msg.Status)
	assert.Equal(t, 40, *msg.Progress)
	assert.Equal(t, "Rendering...", msg.Content)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, created, msg.Timestamp, "timestamp is fixed at creation")

	repo.UpdateMessage(convID, "a1", MessagePatch{VideoURL: Ptr("https://x/v.mp4")})
	msg, _ = repo.Message(convID, "a1")
	assert.Equal(t, "Rendering...", msg.Content, "unset patch fields must be left alone")
	assert.Equal(t, "https://x/v.mp4", msg.VideoURL)
}

func TestRepository_UpdateMessage_UnknownIsNoop(t *testing.T) {
	repo, p := newTestRepository(t)
	convID := repo.CreateConversation()
	repo.AppendMessage(convID, userMessage("hello"))

	before := repo.Snapshot()
	saves := p.count()

	assert.False(t, repo.UpdateMessage("missing", "m", MessagePatch{Content: Ptr("x")}))
	assert.False(t, repo.UpdateMessage(convID, "missing", MessagePatch{Content: Ptr("x")}))

	assert.Equal(t, before, repo.Snapshot())
	assert.Equal(t, saves, p.count())
}

func TestRepository_SnapshotsAreCopies(t *testing.T) {
	repo, _ := newTestRepository(t)
	convID := repo.CreateConversation()
	repo.AppendMessage(convID, Message{ID: "a1", Role: RoleAssistant, Status: StatusPending, Progress: Ptr(0)})

	active := repo.Active()
	*active.Messages[0].Progress = 99
	active.Messages[0].Content = "tampered"

	msg, _ := repo.Message(convID, "a1")
	assert.Equal(t, 0, *msg.Progress)
	assert.Empty(t, msg.Content)
}

func TestRepository_PersistsEveryMutation(t *testing.T) {
	repo, p := newTestRepository(t)

	id := repo.CreateConversation()
	assert.Equal(t, 1, p.count())

	repo.AppendMessage(id, userMessage("hi"))
	assert.Equal(t, 2, p.count())

	repo.SetActive(id)
	assert.Equal(t, 3, p.count())

	last := p.last()
	require.Len(t, last.Conversations, 1)
	assert.Equal(t, id, last.ActiveID)
	assert.Equal(t, "hi", last.Conversations[0].Title)
}

func TestRepository_PersistErrorDoesNotFail(t *testing.T) {
	repo, p := newTestRepository(t)
	p.err = errors.New("disk full")

	id := repo.CreateConversation()
	assert.True(t, repo.AppendMessage(id, userMessage("still works")))
	assert.Len(t, repo.Conversation(id).Messages, 1)
}

// stalledPersister blocks every save until its context ends.
type stalledPersister struct{}

func (stalledPersister) Save(ctx context.Context, _ State) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRepository_SaveTimeoutBoundsStall(t *testing.T) {
	repo := NewRepository(stalledPersister{}, nil)
	t.Cleanup(repo.Close)
	repo.SetSaveTimeout(20 * time.Millisecond)

	start := time.Now()
	id := repo.CreateConversation()
	require.True(t, repo.RenameConversation(id, "Launch teaser"))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "Launch teaser", repo.Conversation(id).Title, "failed saves keep the mutation")
}

func TestRepository_SetSaveTimeout_NonPositiveRestoresDefault(t *testing.T) {
	repo, _ := newTestRepository(t)

	repo.SetSaveTimeout(time.Millisecond)
	repo.SetSaveTimeout(0)
	assert.Equal(t, defaultSaveTimeout, repo.saveTimeout)
}

func TestRepository_Restore(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	state := State{
		Conversations: []Conversation{
			{ID: "c2", Title: "second", CreatedAt: created},
			{ID: "c1", Title: "first", CreatedAt: created, Messages: []Message{
				{ID: "m1", Role: RoleUser, Content: "hi", Timestamp: created},
			}},
		},
		ActiveID: "c1",
	}

	t.Run("active id present", func(t *testing.T) {
		repo, p := newTestRepository(t)
		repo.Restore(state)

		assert.Equal(t, "c1", repo.ActiveID())
		convs := repo.Conversations()
		require.Len(t, convs, 2)
		assert.Equal(t, "c2", convs[0].ID)
		assert.Equal(t, 0, p.count(), "restore must not write back")
	})

	t.Run("active id missing", func(t *testing.T) {
		repo, _ := newTestRepository(t)
		tampered := state
		tampered.ActiveID = "gone"
		repo.Restore(tampered)

		assert.Empty(t, repo.ActiveID())
		assert.Nil(t, repo.Active())
	})
}

func TestRepository_ChangesCarryActiveView(t *testing.T) {
	repo, _ := newTestRepository(t)
	ch, _ := repo.Changes(t.Context(), "")

	id := repo.CreateConversation()

	select {
	case change := <-ch:
		assert.Equal(t, ChangeCreated, change.Kind)
		assert.Equal(t, id, change.ActiveID)
		require.NotNil(t, change.Active)
		assert.Equal(t, id, change.Active.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestRepository_ConcurrentUpdates(t *testing.T) {
	repo, _ := newTestRepository(t)
	convID := repo.CreateConversation()

	const n = 20
	for i := 0; i < n; i++ {
		repo.AppendMessage(convID, Message{ID: fmt.Sprintf("a%d", i), Role: RoleAssistant, Status: StatusPending})
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for p := 0; p <= 100; p += 10 {
				repo.UpdateMessage(convID, fmt.Sprintf("a%d", i), MessagePatch{
					Status:   Ptr(StatusProcessing),
					Progress: Ptr(p),
				})
			}
		}(i)
	}
	wg.Wait()

	conv := repo.Conversation(convID)
	require.Len(t, conv.Messages, n)
	for _, m := range conv.Messages {
		assert.Equal(t, 100, *m.Progress, "stream-local ordering must be preserved for %s", m.ID)
	}
}
