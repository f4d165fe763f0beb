package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/share-dish/chat-backend/api/validator"
)

func TestAPI_listChats(t *testing.T) {
	tests := []struct {
		name       string
		db         *testdb
		target     string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "MissingUserID",
			target:     "/chats",
			wantStatus: 400,
			wantBody: `{
				"error": "Query parameter user_id is required"
			}`,
		},
		{
			name:   "DBError",
			target: "/chats?user_id=A",
			db: &testdb{
				listChats: func(t *testing.T, userID string) ([]Chat, error) {
					return nil, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not list chats"
			}`,
		},
		{
			name:   "Empty",
			target: "/chats?user_id=A",
			db: &testdb{
				listChats: func(t *testing.T, userID string) ([]Chat, error) {
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"chats": []
			}`,
		},
		{
			name:   "OK",
			target: "/chats?user_id=A",
			db: &testdb{
				listChats: func(t *testing.T, userID string) ([]Chat, error) {
					if userID != "A" {
						t.Errorf("Got userID %q, want A", userID)
					}
					return []Chat{
						{
							ID:      "1",
							PostID:  "P1",
							UserIDs: []string{"A", "B"},
							Messages: []Message{
								{
									ID:        "m1",
									ChatID:    "1",
									SenderID:  "A",
									Text:      "Is this still available?",
									CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
								},
							},
							CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
						},
					}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"chats": [
					{
						"id": "1",
						"post_id": "P1",
						"user_ids": ["A", "B"],
						"messages": [
							{
								"id": "m1",
								"chat_id": "1",
								"sender_id": "A",
								"text": "Is this still available?",
								"created_at": "2024-01-01T00:00:00Z"
							}
						],
						"created_at": "2024-01-01T00:00:00Z"
					}
				]
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db != nil {
				tt.db.T = t
			}
			a := &API{
				DB:     tt.db,
				Cache:  &testcache{},
				Logger: slogt.New(t),
				Val:    validator.New(),
			}

			srv := httptest.NewServer(a)
			defer srv.Close()

			resp, err := http.Get(srv.URL + tt.target)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_getChat(t *testing.T) {
	chatMeta := Chat{
		ID:        "1",
		PostID:    "P1",
		UserIDs:   []string{"A", "B"},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name       string
		db         *testdb
		cache      *testcache
		wantStatus int
		wantBody   string
	}{
		{
			name: "NotFound",
			db: &testdb{
				getChat: func(t *testing.T, chatID string) (Chat, error) {
					return Chat{}, ErrChatNotFound
				},
			},
			wantStatus: 404,
			wantBody: `{
				"error": "Chat not found"
			}`,
		},
		{
			name: "CacheError",
			db: &testdb{
				getChat: func(t *testing.T, chatID string) (Chat, error) {
					return chatMeta, nil
				},
			},
			cache: &testcache{
				listMessages: func(t *testing.T, chatID string) ([]Message, error) {
					return nil, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not list messages"
			}`,
		},
		{
			name: "MergesCacheAndDB",
			db: &testdb{
				getChat: func(t *testing.T, chatID string) (Chat, error) {
					if chatID != "1" {
						t.Errorf("Got chatID %q, want 1", chatID)
					}
					return chatMeta, nil
				},
				listMessages: func(t *testing.T, chatID string, excludeMsgIDs ...string) ([]Message, error) {
					if len(excludeMsgIDs) != 1 || excludeMsgIDs[0] != "m2" {
						t.Errorf("Got excluded IDs %v, want [m2]", excludeMsgIDs)
					}
					return []Message{
						{
							ID:        "m1",
							ChatID:    "1",
							SenderID:  "A",
							Text:      "Is this still available?",
							CreatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
						},
					}, nil
				},
			},
			cache: &testcache{
				listMessages: func(t *testing.T, chatID string) ([]Message, error) {
					return []Message{
						{
							ID:        "m2",
							ChatID:    "1",
							SenderID:  "B",
							Text:      "Yes, come by at 6",
							CreatedAt: time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
						},
					}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": "1",
				"post_id": "P1",
				"user_ids": ["A", "B"],
				"messages": [
					{
						"id": "m1",
						"chat_id": "1",
						"sender_id": "A",
						"text": "Is this still available?",
						"created_at": "2024-01-01T10:00:00Z"
					},
					{
						"id": "m2",
						"chat_id": "1",
						"sender_id": "B",
						"text": "Yes, come by at 6",
						"created_at": "2024-01-01T11:00:00Z"
					}
				],
				"created_at": "2024-01-01T00:00:00Z"
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db != nil {
				tt.db.T = t
			}
			if tt.cache == nil {
				tt.cache = &testcache{}
			}
			tt.cache.T = t
			a := &API{
				DB:     tt.db,
				Cache:  tt.cache,
				Logger: slogt.New(t),
				Val:    validator.New(),
			}

			srv := httptest.NewServer(a)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/chats/1")
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_deleteChat(t *testing.T) {
	tests := []struct {
		name        string
		db          *testdb
		cache       *testcache
		wantStatus  int
		wantBody    string
		containsLog string
	}{
		{
			name: "NotFound",
			db: &testdb{
				deleteChat: func(t *testing.T, chatID string) error {
					return ErrChatNotFound
				},
			},
			wantStatus: 404,
			wantBody: `{
				"error": "Chat not found"
			}`,
		},
		{
			name: "OK",
			db: &testdb{
				deleteChat: func(t *testing.T, chatID string) error {
					if chatID != "1" {
						t.Errorf("Got chatID %q, want 1", chatID)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"status": "deleted"
			}`,
		},
		{
			name: "CacheErrorStillDeletes",
			db: &testdb{
				deleteChat: func(t *testing.T, chatID string) error {
					return nil
				},
			},
			cache: &testcache{
				deleteChat: func(t *testing.T, chatID string) error {
					return errors.New("something went wrong")
				},
			},
			wantStatus: 200,
			wantBody: `{
				"status": "deleted"
			}`,
			containsLog: "Could not drop cached chat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if tt.db != nil {
				tt.db.T = t
			}
			if tt.cache == nil {
				tt.cache = &testcache{}
			}
			tt.cache.T = t
			a := &API{
				DB:     tt.db,
				Cache:  tt.cache,
				Logger: slog.New(slog.NewTextHandler(buf, nil)),
				Val:    validator.New(),
			}

			srv := httptest.NewServer(a)
			defer srv.Close()

			req, _ := http.NewRequest("DELETE", srv.URL+"/chats/1", nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
			checkLog(t, buf, tt.containsLog)
		})
	}
}

func TestAPI_blockChat(t *testing.T) {
	tests := []struct {
		name       string
		db         *testdb
		req        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "InvalidJSON",
			req:        `not json`,
			wantStatus: 400,
			wantBody: `{
				"error": "Could not decode request body"
			}`,
		},
		{
			name:       "MissingUserID",
			req:        `{}`,
			wantStatus: 400,
			wantBody: `{
				"errors": [
					{
						"Field": "UserID",
						"Message": "Key: 'request.UserID' Error:Field validation for 'UserID' failed on the 'required' tag"
					}
				]
			}`,
		},
		{
			name: "OK",
			req: `{
				"user_id": "A"
			}`,
			db: &testdb{
				blockChat: func(t *testing.T, chatID, userID string) error {
					if chatID != "1" {
						t.Errorf("Got chatID %q, want 1", chatID)
					}
					if userID != "A" {
						t.Errorf("Got userID %q, want A", userID)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"status": "blocked"
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db != nil {
				tt.db.T = t
			}
			a := &API{
				DB:     tt.db,
				Cache:  &testcache{},
				Logger: slogt.New(t),
				Val:    validator.New(),
			}

			srv := httptest.NewServer(a)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/chats/1/block", "application/json", strings.NewReader(tt.req))
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_createReport(t *testing.T) {
	tests := []struct {
		name       string
		db         *testdb
		req        string
		wantStatus int
		wantBody   string
	}{
		{
			name: "NotFound",
			req: `{
				"user_id": "A",
				"reason": "listing is fake"
			}`,
			db: &testdb{
				insertReport: func(t *testing.T, report Report) (Report, error) {
					return Report{}, ErrChatNotFound
				},
			},
			wantStatus: 404,
			wantBody: `{
				"error": "Chat not found"
			}`,
		},
		{
			name: "OK",
			req: `{
				"user_id": "A",
				"reason": "listing is fake"
			}`,
			db: &testdb{
				insertReport: func(t *testing.T, report Report) (Report, error) {
					if report.ReporterID != "A" {
						t.Errorf("Got ReporterID %q, want A", report.ReporterID)
					}
					if report.Reason != "listing is fake" {
						t.Errorf("Got Reason %q, want listing is fake", report.Reason)
					}
					return Report{
						ID:         "r1",
						ChatID:     report.ChatID,
						ReporterID: report.ReporterID,
						Reason:     report.Reason,
						CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
					}, nil
				},
			},
			wantStatus: 201,
			wantBody: `{
				"id": "r1",
				"chat_id": "1",
				"reporter_id": "A",
				"reason": "listing is fake",
				"created_at": "2024-01-01T00:00:00Z"
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db != nil {
				tt.db.T = t
			}
			a := &API{
				DB:     tt.db,
				Cache:  &testcache{},
				Logger: slogt.New(t),
				Val:    validator.New(),
			}

			srv := httptest.NewServer(a)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/chats/1/reports", "application/json", strings.NewReader(tt.req))
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

type testdb struct {
	T            *testing.T
	listChats    func(t *testing.T, userID string) ([]Chat, error)
	getChat      func(t *testing.T, chatID string) (Chat, error)
	listMessages func(t *testing.T, chatID string, excludeMsgIDs ...string) ([]Message, error)
	deleteChat   func(t *testing.T, chatID string) error
	blockChat    func(t *testing.T, chatID, userID string) error
	insertReport func(t *testing.T, report Report) (Report, error)
}

func (db *testdb) ListChats(_ context.Context, userID string) ([]Chat, error) {
	return db.listChats(db.T, userID)
}

func (db *testdb) GetChat(_ context.Context, chatID string) (Chat, error) {
	return db.getChat(db.T, chatID)
}

func (db *testdb) ListMessages(_ context.Context, chatID string, excludeMsgIDs ...string) ([]Message, error) {
	if db.listMessages == nil {
		return nil, nil
	}
	return db.listMessages(db.T, chatID, excludeMsgIDs...)
}

func (db *testdb) DeleteChat(_ context.Context, chatID string) error {
	return db.deleteChat(db.T, chatID)
}

func (db *testdb) BlockChat(_ context.Context, chatID, userID string) error {
	return db.blockChat(db.T, chatID, userID)
}

func (db *testdb) InsertReport(_ context.Context, report Report) (Report, error) {
	return db.insertReport(db.T, report)
}

type testcache struct {
	T            *testing.T
	listMessages func(t *testing.T, chatID string) ([]Message, error)
	deleteChat   func(t *testing.T, chatID string) error
}

func (c *testcache) ListMessages(_ context.Context, chatID string) ([]Message, error) {
	if c.listMessages == nil {
		return nil, nil
	}
	return c.listMessages(c.T, chatID)
}

func (c *testcache) DeleteChat(_ context.Context, chatID string) error {
	if c.deleteChat == nil {
		return nil
	}
	return c.deleteChat(c.T, chatID)
}

func checkStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("Got HTTP status %d, want %d", got, want)
	}
}

func checkBody(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	gotBody := normalizeJSON(t, resp.Body)
	wantBody := normalizeJSON(t, bytes.NewReader([]byte(want)))
	if gotBody != wantBody {
		t.Errorf("Body does not match\nGot\n  %s\n\nWant\n  %s", gotBody, wantBody)
	}
}

func checkLog(t *testing.T, buffer *bytes.Buffer, want string) {
	t.Helper()

	if s := buffer.String(); want != "" && !strings.Contains(s, want) {
		t.Errorf("Log does not contain  %s\n", want)
	}
}

func normalizeJSON(t *testing.T, r io.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Could not read JSON: %v", err)
	}
	if err := json.Indent(&buf, b, "  ", "  "); err != nil {
		t.Fatalf("Could not indent JSON: %v", err)
	}
	return strings.TrimSpace(buf.String())
}
