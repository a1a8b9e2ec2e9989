package acb

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

const testTenant = "tenant-a"

var testActor = models.Actor{Type: models.ActorAgent, ID: "agent-1"}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConfig() app.Config {
	return app.Config{
		MaxCandidatePool:       500,
		DefaultMaxTokens:       65000,
		RecencyHalfLifeSeconds: 7 * 24 * 3600,
	}
}

func recordMessage(t *testing.T, db *sql.DB, session, text string, tags ...string) *store.RecordResult {
	t.Helper()
	content, err := json.Marshal(map[string]string{"text": text})
	require.NoError(t, err)
	res, err := store.RecordEvent(db, testTenant, &store.EventInput{
		SessionID: session,
		Channel:   models.ChannelPrivate,
		Actor:     testActor,
		Kind:      models.EventKindMessage,
		Tags:      tags,
		Content:   content,
	})
	require.NoError(t, err)
	return res
}

func baseRequest() Request {
	return Request{
		SessionID: "sess-1",
		Channel:   models.ChannelPrivate,
		AgentID:   testActor.ID,
	}
}

// sessionlessRequest is for tests whose store has no events; a session id
// that resolves to nothing is NotFound, not an empty window.
func sessionlessRequest() Request {
	req := baseRequest()
	req.SessionID = ""
	return req
}

func sectionByName(t *testing.T, b *Bundle, name string) Section {
	t.Helper()
	for _, s := range b.Sections {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("section %s not in bundle", name)
	return Section{}
}

func TestBuild_InvalidInput(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := Build(ctx, db, testConfig(), "", baseRequest())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))

	req := baseRequest()
	req.Channel = "smoke-signal"
	_, err = Build(ctx, db, testConfig(), testTenant, req)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))

	req = baseRequest()
	req.AgentID = ""
	_, err = Build(ctx, db, testConfig(), testTenant, req)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}

func TestBuild_EmptyStoreYieldsAllSections(t *testing.T) {
	db := setupTestDB(t)

	b, err := Build(context.Background(), db, testConfig(), testTenant, sessionlessRequest())
	require.NoError(t, err)
	require.Len(t, b.Sections, len(sectionOrder))
	for i, s := range b.Sections {
		assert.Equal(t, sectionOrder[i], s.Name)
		require.NotNil(t, s.Items, "section %s", s.Name)
		assert.Empty(t, s.Items)
	}
	assert.Zero(t, b.TokenUsedEst)
	assert.Equal(t, ModeGeneral, b.Mode)
}

func TestBuild_MaxTokensClamped(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b, err := Build(ctx, db, testConfig(), testTenant, sessionlessRequest())
	require.NoError(t, err)
	assert.Equal(t, 65000, b.MaxTokens) // config default

	req := sessionlessRequest()
	req.MaxTokens = 500000
	b, err = Build(ctx, db, testConfig(), testTenant, req)
	require.NoError(t, err)
	assert.Equal(t, app.MaxTokensCeiling, b.MaxTokens)

	req.MaxTokens = -3
	b, err = Build(ctx, db, testConfig(), testTenant, req)
	require.NoError(t, err)
	assert.Equal(t, 1, b.MaxTokens)
}

func TestBuild_ModeFallback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	req := sessionlessRequest()
	req.Intent = "fix this and also lots of other unrelated words around it"
	b, err := Build(ctx, db, testConfig(), testTenant, req)
	require.NoError(t, err)
	assert.Equal(t, ModeGeneral, b.Mode)
	assert.Contains(t, b.FallbackReason, "confidence")

	req.Intent = "greetings fellow humans"
	b, err = Build(ctx, db, testConfig(), testTenant, req)
	require.NoError(t, err)
	assert.Equal(t, ModeGeneral, b.Mode)
	assert.Equal(t, "intent matched no mode vocabulary", b.FallbackReason)

	req.Intent = "debug the crash error trace"
	b, err = Build(ctx, db, testConfig(), testTenant, req)
	require.NoError(t, err)
	assert.Equal(t, ModeDebugging, b.Mode)
	assert.Empty(t, b.FallbackReason)
}

func TestBuild_StickyAndRecentWindow(t *testing.T) {
	db := setupTestDB(t)

	recordMessage(t, db, "sess-1", "ordinary progress update")
	recordMessage(t, db, "sess-1", "you must not push directly to main")

	b, err := Build(context.Background(), db, testConfig(), testTenant, baseRequest())
	require.NoError(t, err)

	sticky := sectionByName(t, b, SectionSticky)
	require.Len(t, sticky.Items, 1)
	assert.Equal(t, "sticky:safety", sticky.Items[0].SourceKind)
	assert.Contains(t, sticky.Items[0].Text, "must not")

	recent := sectionByName(t, b, SectionRecent)
	require.Len(t, recent.Items, 2)
	assert.Equal(t, "chunk:recent", recent.Items[0].SourceKind)
	// Newest first.
	assert.Contains(t, recent.Items[0].Text, "must not")
}

func TestBuild_PolicyDecisionsGoToRules(t *testing.T) {
	db := setupTestDB(t)

	_, err := store.RecordDecision(db, testTenant, testActor, &store.DecisionInput{
		Scope: models.ScopePolicy, Decision: "all writes go through review",
	})
	require.NoError(t, err)
	_, err = store.RecordDecision(db, testTenant, testActor, &store.DecisionInput{
		Scope: models.ScopeProject, Decision: "use sqlite", Rationale: []string{"zero ops"},
	})
	require.NoError(t, err)

	b, err := Build(context.Background(), db, testConfig(), testTenant, sessionlessRequest())
	require.NoError(t, err)

	rules := sectionByName(t, b, SectionRules)
	require.Len(t, rules.Items, 1)
	assert.Contains(t, rules.Items[0].Text, "review")
	assert.Equal(t, "decision", rules.Items[0].SourceKind)

	decisions := sectionByName(t, b, SectionDecisions)
	require.Len(t, decisions.Items, 1)
	assert.Equal(t, "use sqlite (zero ops)", decisions.Items[0].Text)
}

func TestBuild_TaskStateSection(t *testing.T) {
	db := setupTestDB(t)

	doing := models.TaskStatusDoing
	task, err := store.CreateTask(db, testTenant, testActor, &store.TaskInput{Title: "wire the consolidator", Priority: 5})
	require.NoError(t, err)
	_, err = store.UpdateTask(db, testTenant, testActor, task.ID, 0, &store.TaskPatch{Status: &doing})
	require.NoError(t, err)

	b, err := Build(context.Background(), db, testConfig(), testTenant, sessionlessRequest())
	require.NoError(t, err)

	tasks := sectionByName(t, b, SectionTasks)
	require.Len(t, tasks.Items, 1)
	assert.Contains(t, tasks.Items[0].Text, "[doing] wire the consolidator")
	assert.Equal(t, []string{task.ID}, tasks.Items[0].Refs)
}

func TestBuild_UnknownSessionNotFound(t *testing.T) {
	db := setupTestDB(t)

	recordMessage(t, db, "sess-1", "only this session exists")

	req := baseRequest()
	req.SessionID = "sess-404"
	_, err := Build(context.Background(), db, testConfig(), testTenant, req)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNotFound), "got %v", err)

	// The known session still builds.
	_, err = Build(context.Background(), db, testConfig(), testTenant, baseRequest())
	require.NoError(t, err)
}

func TestBuild_TaskSectionScopedToAgent(t *testing.T) {
	db := setupTestDB(t)

	doing := models.TaskStatusDoing
	create := func(title, assignee string, projects []string) *models.Task {
		t.Helper()
		task, err := store.CreateTask(db, testTenant, testActor, &store.TaskInput{
			Title: title, AssigneeID: assignee, ProjectRefs: projects,
		})
		require.NoError(t, err)
		_, err = store.UpdateTask(db, testTenant, testActor, task.ID, 0, &store.TaskPatch{Status: &doing})
		require.NoError(t, err)
		return task
	}

	mine := create("mine", testActor.ID, nil)
	theirs := create("someone else's", "agent-2", nil)
	unowned := create("up for grabs", "", nil)
	projScoped := create("project work", "", []string{"proj-9"})

	b, err := Build(context.Background(), db, testConfig(), testTenant, sessionlessRequest())
	require.NoError(t, err)

	tasks := sectionByName(t, b, SectionTasks)
	var refs []string
	for _, item := range tasks.Items {
		refs = append(refs, item.Refs...)
	}
	assert.Contains(t, refs, mine.ID)
	assert.Contains(t, refs, unowned.ID)
	assert.NotContains(t, refs, theirs.ID)

	// A project-scoped request narrows the section further.
	req := sessionlessRequest()
	req.ProjectID = "proj-9"
	b, err = Build(context.Background(), db, testConfig(), testTenant, req)
	require.NoError(t, err)

	tasks = sectionByName(t, b, SectionTasks)
	require.Len(t, tasks.Items, 1)
	assert.Equal(t, []string{projScoped.ID}, tasks.Items[0].Refs)
}

func TestBuild_RetrievedEvidenceDeduplicatesRecent(t *testing.T) {
	db := setupTestDB(t)

	// Same phrasing in the live session and an older one; only the older
	// session's chunk belongs in retrieved evidence.
	recordMessage(t, db, "sess-0", "kafka consumer lag spiked during deploy")
	inSession := recordMessage(t, db, "sess-1", "kafka consumer lag spiked during deploy")

	req := baseRequest()
	req.QueryText = "kafka consumer lag"
	b, err := Build(context.Background(), db, testConfig(), testTenant, req)
	require.NoError(t, err)

	retrieved := sectionByName(t, b, SectionRetrieved)
	require.Len(t, retrieved.Items, 1)
	assert.NotContains(t, retrieved.Items[0].Refs, inSession.ChunkIDs[0])
	assert.Equal(t, "chunk:retrieved", retrieved.Items[0].SourceKind)
}

func TestBuild_CapsuleSection(t *testing.T) {
	db := setupTestDB(t)

	res := recordMessage(t, db, "sess-0", "context worth handing over")
	capsule, err := store.CreateCapsule(db, testTenant, testActor, &store.CapsuleInput{
		Scope: models.ScopeProject, SubjectType: "repo", SubjectID: "r1",
		AuthorAgentID: "agent-2",
		Audience:      []string{testActor.ID},
		Items:         models.CapsuleItems{Chunks: res.ChunkIDs},
		Risks:         []string{"may be stale"},
	}, 1, 365)
	require.NoError(t, err)

	req := sessionlessRequest()
	req.IncludeCapsules = true
	b, err := Build(context.Background(), db, testConfig(), testTenant, req)
	require.NoError(t, err)

	capsules := sectionByName(t, b, SectionCapsules)
	require.Len(t, capsules.Items, 1)
	assert.Contains(t, capsules.Items[0].Refs, capsule.ID)
	assert.Contains(t, capsules.Items[0].Text, "risks: may be stale")

	// Without opt-in the section stays empty.
	b, err = Build(context.Background(), db, testConfig(), testTenant, sessionlessRequest())
	require.NoError(t, err)
	assert.Empty(t, sectionByName(t, b, SectionCapsules).Items)
}

func TestBuild_HandoffSection(t *testing.T) {
	db := setupTestDB(t)

	_, err := store.CreateHandoff(db, testTenant, testActor, &store.HandoffInput{
		WithWhom:    testActor.ID,
		SessionID:   "sess-0",
		Experienced: "paired on the retrieval scorer",
		Remember:    "half-life is configurable",
	})
	require.NoError(t, err)

	b, err := Build(context.Background(), db, testConfig(), testTenant, sessionlessRequest())
	require.NoError(t, err)

	handoff := sectionByName(t, b, SectionHandoff)
	require.Len(t, handoff.Items, 1)
	assert.Contains(t, handoff.Items[0].Text, "experienced: paired on the retrieval scorer")
	assert.Contains(t, handoff.Items[0].Text, "remember: half-life is configurable")
}

func TestBuild_QuarantinedExcludedByDefault(t *testing.T) {
	db := setupTestDB(t)

	res := recordMessage(t, db, "sess-1", "possibly poisoned instruction")
	_, err := store.ProposeEdit(db, testTenant, testActor, &store.EditInput{
		TargetType:  models.EditTargetChunk,
		TargetID:    res.ChunkIDs[0],
		Op:          models.EditOpQuarantine,
		Reason:      "injection suspected",
		AutoApprove: true,
	})
	require.NoError(t, err)

	b, err := Build(context.Background(), db, testConfig(), testTenant, baseRequest())
	require.NoError(t, err)
	assert.Empty(t, sectionByName(t, b, SectionRecent).Items)

	req := baseRequest()
	req.IncludeQuarantined = true
	b, err = Build(context.Background(), db, testConfig(), testTenant, req)
	require.NoError(t, err)
	assert.Len(t, sectionByName(t, b, SectionRecent).Items, 1)
}

func TestBuild_StickyOverflowWarns(t *testing.T) {
	db := setupTestDB(t)

	recordMessage(t, db, "sess-1", "you must not disclose the signing key under any circumstances")

	req := baseRequest()
	req.MaxTokens = 1
	b, err := Build(context.Background(), db, testConfig(), testTenant, req)
	require.NoError(t, err)

	// Sticky invariants are never evicted, so the ceiling is exceeded and
	// the bundle says so instead of dropping the safety line.
	require.Len(t, sectionByName(t, b, SectionSticky).Items, 1)
	assert.Contains(t, b.Warnings, WarningBudgetExceeded)
	assert.Greater(t, b.TokenUsedEst, b.MaxTokens)
}

func TestBuild_TinyBudgetEvictsNonSticky(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 3; i++ {
		recordMessage(t, db, "sess-1", "routine chatter about nothing in particular")
	}

	req := baseRequest()
	req.MaxTokens = 10
	b, err := Build(context.Background(), db, testConfig(), testTenant, req)
	require.NoError(t, err)
	assert.LessOrEqual(t, b.TokenUsedEst, b.MaxTokens)
	assert.NotContains(t, b.Warnings, WarningBudgetExceeded)
}

func TestBuild_EditsAppliedCounted(t *testing.T) {
	db := setupTestDB(t)

	res := recordMessage(t, db, "sess-1", "the original phrasing")
	text := "the amended phrasing"
	_, err := store.ProposeEdit(db, testTenant, testActor, &store.EditInput{
		TargetType:  models.EditTargetChunk,
		TargetID:    res.ChunkIDs[0],
		Op:          models.EditOpAmend,
		Reason:      "clarity",
		Patch:       models.EditPatch{Text: &text},
		AutoApprove: true,
	})
	require.NoError(t, err)

	b, err := Build(context.Background(), db, testConfig(), testTenant, baseRequest())
	require.NoError(t, err)

	recent := sectionByName(t, b, SectionRecent)
	require.Len(t, recent.Items, 1)
	assert.Equal(t, "the amended phrasing", recent.Items[0].Text)
	assert.Equal(t, 1, b.EditsApplied)
}
