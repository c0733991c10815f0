package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/services"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMapDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.UserProfile{},
		&models.MindMap{},
		&models.Node{},
		&models.Edge{},
		&models.Comment{},
		&models.CommentReaction{},
		&models.UserPresence{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedMap(t *testing.T, db *gorm.DB) *models.MindMap {
	t.Helper()
	m, err := services.CreateMap(db, uuid.NewString(), "Brainstorm", "")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func seedNode(t *testing.T, repo *services.GormRepository, mapID, content string) models.Node {
	t.Helper()
	node, err := repo.CreateNode(context.Background(), models.Node{
		MapID:   mapID,
		Content: content,
	})
	if err != nil {
		t.Fatal(err)
	}
	return node
}

func TestCreateNodeAssignsID(t *testing.T) {
	db := setupMapDB(t)
	repo := &services.GormRepository{DB: db}
	m := seedMap(t, db)

	node := seedNode(t, repo, m.ID, "idea")
	if node.ID == "" {
		t.Fatal("expected a generated node id")
	}
	var stored models.Node
	if err := db.First(&stored, "id = ?", node.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Content != "idea" || stored.NodeType != "default" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestSaveNodeUpsertsFullRow(t *testing.T) {
	db := setupMapDB(t)
	repo := &services.GormRepository{DB: db}
	m := seedMap(t, db)
	node := seedNode(t, repo, m.ID, "v1")

	node.Content = "v2"
	node.PositionX = 140
	saved, err := repo.SaveNode(context.Background(), node)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Content != "v2" || saved.PositionX != 140 {
		t.Fatalf("saved = %+v", saved)
	}

	// upsert also inserts rows the server has never seen
	fresh := models.Node{ID: uuid.NewString(), MapID: m.ID, Content: "offline edit"}
	if _, err := repo.SaveNode(context.Background(), fresh); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&models.Node{}).Where("map_id = ?", m.ID).Count(&count)
	if count != 2 {
		t.Fatalf("node count = %d, want 2", count)
	}
}

func TestDeleteNodesCascadesEdges(t *testing.T) {
	db := setupMapDB(t)
	repo := &services.GormRepository{DB: db}
	m := seedMap(t, db)
	a := seedNode(t, repo, m.ID, "a")
	b := seedNode(t, repo, m.ID, "b")
	c := seedNode(t, repo, m.ID, "c")

	if _, err := repo.CreateEdge(context.Background(), models.Edge{MapID: m.ID, Source: a.ID, Target: b.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateEdge(context.Background(), models.Edge{MapID: m.ID, Source: b.ID, Target: c.ID}); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteNodes(context.Background(), m.ID, []string{b.ID}); err != nil {
		t.Fatal(err)
	}

	var nodes, edges int64
	db.Model(&models.Node{}).Where("map_id = ?", m.ID).Count(&nodes)
	db.Model(&models.Edge{}).Where("map_id = ?", m.ID).Count(&edges)
	if nodes != 2 {
		t.Fatalf("nodes = %d, want 2", nodes)
	}
	if edges != 0 {
		t.Fatalf("edges touching the deleted node survive: %d", edges)
	}
}

func TestCreateEdgeValidatesEndpoints(t *testing.T) {
	db := setupMapDB(t)
	repo := &services.GormRepository{DB: db}
	m := seedMap(t, db)
	a := seedNode(t, repo, m.ID, "a")

	_, err := repo.CreateEdge(context.Background(), models.Edge{MapID: m.ID, Source: a.ID, Target: uuid.NewString()})
	if err == nil || !strings.Contains(err.Error(), "endpoints") {
		t.Fatalf("expected endpoint error, got %v", err)
	}
	var edges int64
	db.Model(&models.Edge{}).Count(&edges)
	if edges != 0 {
		t.Fatalf("invalid edge persisted")
	}
}

func TestCreateEdgeRejectsEitherDirectionDuplicate(t *testing.T) {
	db := setupMapDB(t)
	repo := &services.GormRepository{DB: db}
	m := seedMap(t, db)
	a := seedNode(t, repo, m.ID, "a")
	b := seedNode(t, repo, m.ID, "b")

	if _, err := repo.CreateEdge(context.Background(), models.Edge{MapID: m.ID, Source: a.ID, Target: b.ID}); err != nil {
		t.Fatal(err)
	}
	_, err := repo.CreateEdge(context.Background(), models.Edge{MapID: m.ID, Source: b.ID, Target: a.ID})
	if err == nil || !strings.Contains(err.Error(), "duplicate edge") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	var edges int64
	db.Model(&models.Edge{}).Count(&edges)
	if edges != 1 {
		t.Fatalf("edges = %d, want 1", edges)
	}
}

func TestGetMapGraph(t *testing.T) {
	db := setupMapDB(t)
	repo := &services.GormRepository{DB: db}
	m := seedMap(t, db)
	a := seedNode(t, repo, m.ID, "a")
	b := seedNode(t, repo, m.ID, "b")
	if _, err := repo.CreateEdge(context.Background(), models.Edge{MapID: m.ID, Source: a.ID, Target: b.ID}); err != nil {
		t.Fatal(err)
	}
	author := uuid.NewString()
	comment, err := services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "looks good"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := services.ToggleReaction(db, comment.ID, author, "👍"); err != nil {
		t.Fatal(err)
	}

	graph, err := services.GetMapGraph(db, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if graph.Map.Title != "Brainstorm" {
		t.Fatalf("map = %+v", graph.Map)
	}
	if len(graph.Nodes) != 2 || len(graph.Edges) != 1 || len(graph.Comments) != 1 {
		t.Fatalf("graph sizes = %d/%d/%d", len(graph.Nodes), len(graph.Edges), len(graph.Comments))
	}
	if len(graph.Comments[0].Reactions) != 1 {
		t.Fatal("reactions not preloaded")
	}

	if _, err := services.GetMapGraph(db, uuid.NewString()); err == nil || err.Error() != "not found" {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommentThreading(t *testing.T) {
	db := setupMapDB(t)
	m := seedMap(t, db)
	other := seedMap(t, db)
	author := uuid.NewString()

	parent, err := services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "root"})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "reply", ParentID: &parent.ID})
	if err != nil {
		t.Fatal(err)
	}
	if reply.ParentID == nil || *reply.ParentID != parent.ID {
		t.Fatalf("reply = %+v", reply)
	}

	// a reply's parent must live on the same map
	_, err = services.CreateComment(db, services.CommentInput{MapID: other.ID, AuthorID: author, Content: "cross", ParentID: &parent.ID})
	if err == nil || !strings.Contains(err.Error(), "different map") {
		t.Fatalf("expected cross-map error, got %v", err)
	}
	missing := uuid.NewString()
	_, err = services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "orphan", ParentID: &missing})
	if err == nil || !strings.Contains(err.Error(), "parent comment not found") {
		t.Fatalf("expected missing-parent error, got %v", err)
	}
}

func TestUpdateCommentAuthorOnly(t *testing.T) {
	db := setupMapDB(t)
	m := seedMap(t, db)
	author := uuid.NewString()
	comment, err := services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "draft"})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := services.UpdateComment(db, comment.ID, author, "final")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != "final" || !updated.Edited || updated.EditedAt == nil {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := services.UpdateComment(db, comment.ID, uuid.NewString(), "hijack"); err == nil || err.Error() != "forbidden" {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestResolveCommentRoundTrip(t *testing.T) {
	db := setupMapDB(t)
	m := seedMap(t, db)
	author := uuid.NewString()
	resolver := uuid.NewString()
	comment, err := services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "open question"})
	if err != nil {
		t.Fatal(err)
	}

	if err := services.ResolveComment(db, comment.ID, resolver, true); err != nil {
		t.Fatal(err)
	}
	var stored models.Comment
	if err := db.First(&stored, "id = ?", comment.ID).Error; err != nil {
		t.Fatal(err)
	}
	if !stored.Resolved || stored.ResolvedBy == nil || *stored.ResolvedBy != resolver || stored.ResolvedAt == nil {
		t.Fatalf("stored = %+v", stored)
	}

	if err := services.ResolveComment(db, comment.ID, resolver, false); err != nil {
		t.Fatal(err)
	}
	// fresh struct: scanning NULL leaves stale pointer fields untouched
	stored = models.Comment{}
	if err := db.First(&stored, "id = ?", comment.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Resolved || stored.ResolvedBy != nil || stored.ResolvedAt != nil {
		t.Fatalf("unresolve left audit fields: %+v", stored)
	}

	if err := services.ResolveComment(db, uuid.NewString(), resolver, true); err == nil || err.Error() != "not found" {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCommentRemovesThread(t *testing.T) {
	db := setupMapDB(t)
	m := seedMap(t, db)
	author := uuid.NewString()
	parent, err := services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "root"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "reply", ParentID: &parent.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := services.ToggleReaction(db, parent.ID, author, "🎯"); err != nil {
		t.Fatal(err)
	}

	if err := services.DeleteComment(db, parent.ID, uuid.NewString()); err == nil || err.Error() != "forbidden" {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := services.DeleteComment(db, parent.ID, author); err != nil {
		t.Fatal(err)
	}

	var comments, reactions int64
	db.Model(&models.Comment{}).Where("map_id = ?", m.ID).Count(&comments)
	db.Model(&models.CommentReaction{}).Count(&reactions)
	if comments != 0 || reactions != 0 {
		t.Fatalf("thread not fully removed: %d comments, %d reactions", comments, reactions)
	}
}

func TestToggleReaction(t *testing.T) {
	db := setupMapDB(t)
	m := seedMap(t, db)
	author := uuid.NewString()
	comment, err := services.CreateComment(db, services.CommentInput{MapID: m.ID, AuthorID: author, Content: "nice"})
	if err != nil {
		t.Fatal(err)
	}

	added, err := services.ToggleReaction(db, comment.ID, author, "👍")
	if err != nil || !added {
		t.Fatalf("first toggle: added=%v err=%v", added, err)
	}
	added, err = services.ToggleReaction(db, comment.ID, author, "👍")
	if err != nil || added {
		t.Fatalf("second toggle: added=%v err=%v", added, err)
	}
	var reactions int64
	db.Model(&models.CommentReaction{}).Where("comment_id = ?", comment.ID).Count(&reactions)
	if reactions != 0 {
		t.Fatalf("reactions = %d, want 0 after toggle off", reactions)
	}
}

func TestPresenceMirrorUpsert(t *testing.T) {
	db := setupMapDB(t)
	repo := &services.GormRepository{DB: db}
	mapID := uuid.NewString()
	userID := uuid.NewString()

	x, y := 10.0, 20.0
	row := models.UserPresence{
		UserID:      userID,
		MapID:       mapID,
		Status:      "active",
		Color:       "#22c55e",
		DisplayName: "Ada",
		CursorX:     &x,
		CursorY:     &y,
	}
	if err := repo.UpsertPresence(context.Background(), row); err != nil {
		t.Fatal(err)
	}

	// second upsert for the same (user, map) updates in place
	row.Status = "idle"
	if err := repo.UpsertPresence(context.Background(), row); err != nil {
		t.Fatal(err)
	}
	var rows []models.UserPresence
	if err := db.Where("map_id = ?", mapID).Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("presence rows = %d, want 1", len(rows))
	}
	if rows[0].Status != "idle" {
		t.Fatalf("status = %q", rows[0].Status)
	}

	if err := repo.RemovePresence(context.Background(), userID, mapID); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&models.UserPresence{}).Where("map_id = ?", mapID).Count(&count)
	if count != 0 {
		t.Fatalf("presence row survived removal")
	}
}
