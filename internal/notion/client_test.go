package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/models"
	"github.com/starford/pagesync/internal/retry"
)

func newTestClient(t *testing.T, h http.HandlerFunc, filters map[string]map[string]any) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:    srv.URL,
		Token:      "secret_abc",
		HTTPClient: srv.Client(),
		Retry:      retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Filters:    filters,
	})
}

func page(id, title string, extra string) string {
	return `{"object":"page","id":"` + id + `","created_time":"2024-03-01T09:30:00.000Z","last_edited_time":"2024-03-02T10:00:00.000Z",` +
		extra + `"properties":{"Name":{"type":"title","title":[{"plain_text":"` + title + `"}]}}}`
}

func collect(t *testing.T, c *Client, source string) ([]models.RemoteItem, error) {
	t.Helper()
	var items []models.RemoteItem
	for item, err := range c.FetchAll(context.Background(), source) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

func TestFetchAll_Paginates(t *testing.T) {
	var bodies []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/databases/db1/query", r.URL.Path)
		assert.Equal(t, "Bearer secret_abc", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))

		var body map[string]any
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		bodies = append(bodies, body)

		if body["start_cursor"] == nil {
			_, _ = w.Write([]byte(`{"results":[` + page("p1", "One", "") + `,` + page("p2", "Gone", `"archived":true,`) +
				`],"has_more":true,"next_cursor":"c2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[` + page("p3", "Three", "") + `],"has_more":false,"next_cursor":null}`))
	}, map[string]map[string]any{"db1": {"property": "Published", "checkbox": map[string]any{"equals": true}}})

	items, err := collect(t, c, "db1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "p1", items[0].ID)
	assert.Equal(t, "p3", items[1].ID)
	assert.Equal(t, "db1", items[0].Source)
	assert.Equal(t, models.Text("One"), items[0].Properties["Name"])
	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), items[0].LastEditedAt.UTC())

	require.Len(t, bodies, 2)
	assert.Equal(t, "c2", bodies[1]["start_cursor"])
	assert.NotNil(t, bodies[0]["filter"])
	assert.EqualValues(t, 100, bodies[0]["page_size"])
}

func TestFetchAll_RetriesRateLimit(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"rate_limited","message":"slow down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[` + page("p1", "One", "") + `],"has_more":false}`))
	}, nil)

	items, err := collect(t, c, "db1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetchAll_AuthIsFatal(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"unauthorized","message":"API token is invalid."}`))
	}, nil)

	_, err := collect(t, c, "db1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrFatalSource)
	var fatal *apperr.FatalSourceError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "db1", fatal.Source)
	assert.Equal(t, http.StatusUnauthorized, fatal.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "permanent errors are not retried")
}

func TestFetchAll_ServerErrorExhausts(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := collect(t, c, "db1")
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
	assert.False(t, errors.Is(err, apperr.ErrFatalSource))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetchAll_StopsWhenConsumerBreaks(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"results":[` + page("p1", "a", "") + `,` + page("p2", "b", "") + `],"has_more":true,"next_cursor":"x"}`))
	}, nil)
	for range c.FetchAll(context.Background(), "db1") {
		break
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchContent_Recursive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/blocks/page1/children") && r.URL.Query().Get("start_cursor") == "":
			_, _ = w.Write([]byte(`{"results":[
				{"id":"b1","type":"paragraph","has_children":false,"paragraph":{"rich_text":[{"plain_text":"Hello ","annotations":{"bold":true}}]}},
				{"id":"b2","type":"bulleted_list_item","has_children":true,"bulleted_list_item":{"rich_text":[{"plain_text":"parent"}]}}
			],"has_more":true,"next_cursor":"n1"}`))
		case strings.HasPrefix(r.URL.Path, "/v1/blocks/page1/children"):
			_, _ = w.Write([]byte(`{"results":[
				{"id":"b3","type":"child_page","has_children":true,"child_page":{"title":"Sub"}},
				{"id":"b4","type":"image","has_children":false,"image":{"type":"external","external":{"url":"https://img/x.png"},"caption":[]}},
				{"id":"b5","type":"paragraph","has_children":false,"in_trash":true,"paragraph":{"rich_text":[]}},
				{"id":"b6","type":"equation","has_children":false,"equation":{"expression":"a+b"}}
			],"has_more":false,"next_cursor":null}`))
		case strings.HasPrefix(r.URL.Path, "/v1/blocks/b2/children"):
			_, _ = w.Write([]byte(`{"results":[{"id":"b2a","type":"bulleted_list_item","has_children":false,"bulleted_list_item":{"rich_text":[{"plain_text":"child"}]}}],"has_more":false}`))
		default:
			t.Errorf("unexpected request %s", r.URL.String())
			w.WriteHeader(http.StatusNotFound)
		}
	}, nil)

	blocks, err := c.FetchContent(context.Background(), "page1")
	require.NoError(t, err)
	require.Len(t, blocks, 5)
	assert.True(t, blocks[0].RichText[0].Bold)
	require.Len(t, blocks[1].Children, 1)
	assert.Equal(t, "child", blocks[1].Children[0].RichText[0].PlainText)
	assert.Equal(t, "child_page", blocks[2].Type)
	assert.Empty(t, blocks[2].Children)
	assert.Equal(t, "https://img/x.png", blocks[3].URL)
	assert.Equal(t, "a+b", blocks[4].RichText[0].PlainText)
}

func TestDecodeProperty(t *testing.T) {
	decode := func(js string) (models.PropertyValue, bool) {
		t.Helper()
		v, ok, err := decodeProperty("Prop", json.RawMessage(js))
		require.NoError(t, err)
		return v, ok
	}

	v, _ := decode(`{"type":"checkbox","checkbox":true}`)
	assert.Equal(t, models.Checkbox(true), v)

	v, _ = decode(`{"type":"multi_select","multi_select":[{"name":"go"},{"name":"hugo"}]}`)
	assert.Equal(t, []string{"go", "hugo"}, v.Items)

	v, _ = decode(`{"type":"date","date":{"start":"2024-01-05","end":null}}`)
	require.NotNil(t, v.Date)
	assert.False(t, v.Date.HasTime)

	v, _ = decode(`{"type":"date","date":{"start":"2024-01-05T10:00:00.000+02:00"}}`)
	require.NotNil(t, v.Date)
	assert.True(t, v.Date.HasTime)
	assert.Equal(t, 8, v.Date.Start.UTC().Hour())

	v, _ = decode(`{"type":"date","date":null}`)
	assert.True(t, v.IsEmpty())

	v, _ = decode(`{"type":"number","number":null}`)
	assert.True(t, v.IsEmpty())

	v, _ = decode(`{"type":"select","select":{"name":"Blog"}}`)
	assert.Equal(t, models.Text("Blog"), v)

	v, _ = decode(`{"type":"formula","formula":{"type":"boolean","boolean":true}}`)
	assert.Equal(t, models.Checkbox(true), v)

	v, _ = decode(`{"type":"formula","formula":{"type":"date","date":{"start":"2024-02-01T08:15:00Z"}}}`)
	require.NotNil(t, v.Date)
	assert.True(t, v.Date.HasTime)

	v, _ = decode(`{"type":"number","number":3.5}`)
	require.NotNil(t, v.Number)
	assert.InDelta(t, 3.5, *v.Number, 0)

	_, ok := decode(`{"type":"relation","relation":[]}`)
	assert.False(t, ok)

	_, _, err := decodeProperty("Date", json.RawMessage(`{"type":"date","date":{"start":"2024-03-01 10:00"}}`))
	assert.Error(t, err)
}

func TestFetchAll_BadPageFailsAlone(t *testing.T) {
	bad := `{"object":"page","id":"bad","created_time":"2024-03-01T09:30:00.000Z","last_edited_time":"2024-03-02T10:00:00.000Z",` +
		`"properties":{"Date":{"type":"date","date":{"start":"2024-03-01 10:00"}}}}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[` + page("good", "Good", "") + `,` + bad + `],"has_more":false}`))
	}, nil)

	items, err := collect(t, c, "db1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.NoError(t, items[0].DecodeErr)
	assert.Equal(t, "bad", items[1].ID)
	require.Error(t, items[1].DecodeErr)
	assert.Contains(t, items[1].DecodeErr.Error(), `property "Date"`)
}

func TestFetchAll_PageWithoutIDIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"object":"page","properties":{}}],"has_more":false}`))
	}, nil)

	_, err := collect(t, c, "db1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}
