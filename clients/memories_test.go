package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badespider/videoeditor-sub000/errors"
)

func envelopeResponse(t *testing.T, w http.ResponseWriter, code, msg string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"code": code,
		"msg":  msg,
		"data": json.RawMessage(raw),
	}))
}

func TestGetVideoStatusNormalizesSpellings(t *testing.T) {
	for wire, want := range map[string]string{
		"PARSE":       VideoStatusParsed,
		"UNPARSE":     VideoStatusUnparsed,
		"PARSE_ERROR": VideoStatusParseError,
		"FAILED":      VideoStatusParseError,
		"fail":        VideoStatusParseError,
		"":            VideoStatusUnparsed,
	} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/serve/api/v1/list_videos", r.URL.Path)
			require.Equal(t, "test-key", r.Header.Get("Authorization"))
			envelopeResponse(t, w, "0000", "success", map[string]any{
				"videos": []map[string]string{{"videoNo": "vn-1", "videoStatus": wire}},
			})
		}))

		client := NewMemoriesClient(server.URL, "test-key")
		status, err := client.GetVideoStatus(context.Background(), "job-1", "vn-1")
		require.NoError(t, err)
		require.Equal(t, want, status, "wire status %q", wire)
		server.Close()
	}
}

func TestGetVideoStatusUnknownVideoIsUnparsed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelopeResponse(t, w, "0000", "success", map[string]any{"videos": []map[string]string{}})
	}))
	defer server.Close()

	client := NewMemoriesClient(server.URL, "k")
	status, err := client.GetVideoStatus(context.Background(), "job-1", "vn-404")
	require.NoError(t, err)
	require.Equal(t, VideoStatusUnparsed, status)
}

func TestEnvelopeErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		msg       string
		transient bool
	}{
		{"rate limited", "0429", "too many requests", true},
		{"known transient code", "0001", "internal", true},
		{"transient message", "9999", "abnormal system state, try again", true},
		{"fatal business error", "1002", "video not found", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				envelopeResponse(t, w, tt.code, tt.msg, map[string]any{})
			}))
			defer server.Close()

			client := NewMemoriesClient(server.URL, "k")
			_, err := client.Chat(context.Background(), []string{"vn-1"}, "who is on screen")
			require.Error(t, err)
			require.Equal(t, tt.transient, errors.IsTransientExternal(err))
		})
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewMemoriesClient(server.URL, "k")
	_, err := client.Chat(context.Background(), []string{"vn-1"}, "prompt")
	require.Error(t, err)
	require.True(t, errors.IsTransientExternal(err))
	require.Greater(t, calls, 1, "5xx responses are retried by the transport")
}

func TestChatAcceptsStringPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelopeResponse(t, w, "0000", "success", "the hero enters the castle")
	}))
	defer server.Close()

	client := NewMemoriesClient(server.URL, "k")
	answer, err := client.Chat(context.Background(), []string{"vn-1"}, "prompt")
	require.NoError(t, err)
	require.Equal(t, "the hero enters the castle", answer)
}

func TestGetChapterSummaryFieldVariants(t *testing.T) {
	chapters := []map[string]string{
		{"title": "Opening", "start": "00:00:10", "end": "00:02:00", "summary": "The town wakes up."},
	}
	for _, field := range []string{"items", "chapters"} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "CHAPTER", r.URL.Query().Get("type"))
			envelopeResponse(t, w, "0000", "success", map[string]any{field: chapters})
		}))

		client := NewMemoriesClient(server.URL, "k")
		got, err := client.GetChapterSummary(context.Background(), "vn-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "Opening", got[0].Title)
		require.Equal(t, "00:00:10", got[0].Start)
		server.Close()
	}
}

func TestGetAudioTranscriptionNormalizesFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelopeResponse(t, w, "0000", "success", map[string]any{
			"transcription": []map[string]any{
				{"startTime": 1.5, "endTime": 3.25, "content": "hello there", "speaker": "Speaker 1"},
				{"start": "4.0", "end": "5.5", "text": "general kenobi"},
			},
		})
	}))
	defer server.Close()

	client := NewMemoriesClient(server.URL, "k")
	segments, err := client.GetAudioTranscription(context.Background(), "vn-1")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	require.Equal(t, 1.5, segments[0].Start)
	require.Equal(t, 3.25, segments[0].End)
	require.Equal(t, "hello there", segments[0].Text)
	require.Equal(t, "Speaker 1", segments[0].Speaker)
	require.Equal(t, 4.0, segments[1].Start)
	require.Equal(t, "general kenobi", segments[1].Text)
}

func TestParseMovieDataSlicesJSONOutOfProse(t *testing.T) {
	answer := "Sure! Here is the analysis:\n```json\n" +
		`{"title":"The Keep","characters":[{"name":"Ava","role":"lead"}],"plot_summary":"A siege.","speaker_mapping":{"Speaker 1":"Ava"}}` +
		"\n```\nLet me know if you need more."
	data, err := parseMovieData(answer)
	require.NoError(t, err)
	require.Equal(t, "The Keep", data.Title)
	require.Len(t, data.Characters, 1)
	require.Equal(t, "Ava", data.SpeakerMapping["Speaker 1"])
	require.False(t, data.Empty())
}

func TestParseMovieDataRejectsNonJSON(t *testing.T) {
	_, err := parseMovieData("I could not analyze this video.")
	require.Error(t, err)
}

func TestExtractAllMovieDataFallsBackEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		envelopeResponse(t, w, "0000", "success", "no json here at all")
	}))
	defer server.Close()

	client := NewMemoriesClient(server.URL, "k")
	data, err := client.ExtractAllMovieData(context.Background(), "job-1", "vn-1", 5, "")
	require.NoError(t, err)
	require.True(t, data.Empty())
	require.NotNil(t, data.SpeakerMapping)
}
