package telegram

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
)

const token = "123:secret"

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", token, "42")
}

func TestSendText(t *testing.T) {
	var gotPath, gotChat, gotText string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotChat, gotText = r.PostForm.Get("chat_id"), r.PostForm.Get("text")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42}}}`)
	})

	if err := c.SendText(context.Background(), "hello\nworld"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/bot"+token+"/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotChat != "42" || gotText != "hello\nworld" {
		t.Errorf("form = %q, %q", gotChat, gotText)
	}
}

func TestSendPhoto(t *testing.T) {
	var caption, chat, filename string
	var size image.Point
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendPhoto") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart: %v", err)
			return
		}
		caption, chat = r.FormValue("caption"), r.FormValue("chat_id")
		f, hdr, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("photo: %v", err)
			return
		}
		filename = hdr.Filename
		img, err := png.Decode(f)
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		size = img.Bounds().Size()
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":2,"date":0,"chat":{"id":42}}}`)
	})

	fr := frame.FromRGBA(image.NewRGBA(image.Rect(0, 0, 30, 20)))
	if err := c.SendPhoto(context.Background(), "look", fr); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	if caption != "look" || chat != "42" || size != image.Pt(30, 20) {
		t.Errorf("caption %q chat %q size %v", caption, chat, size)
	}
	if filename != photoName {
		t.Errorf("filename = %q", filename)
	}
}

func TestGetUpdates(t *testing.T) {
	var offset, timeout, allowed string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		offset, timeout, allowed = r.Form.Get("offset"), r.Form.Get("timeout"), r.Form.Get("allowed_updates")
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":5,"date":0,"text":"/status","chat":{"id":42}}},
			{"update_id":11,"edited_message":{"message_id":6,"date":0,"chat":{"id":42}}}
		]}`)
	})

	updates, err := c.GetUpdates(context.Background(), 10, 30*time.Second)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if offset != "10" || timeout != "30" || !strings.Contains(allowed, "message") {
		t.Errorf("params offset=%s timeout=%s allowed=%s", offset, timeout, allowed)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0] != (Update{ID: 10, ChatID: 42, Text: "/status"}) {
		t.Errorf("updates[0] = %+v", updates[0])
	}
	if updates[1].ID != 11 || updates[1].Text != "" {
		t.Error("non-message updates still advance the cursor")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apperrors.Code
	}{
		{"unauthorized", 401, `{"ok":false,"error_code":401,"description":"Unauthorized"}`, apperrors.Notifier},
		{"bad request", 400, `{"ok":false,"description":"chat not found"}`, apperrors.Notifier},
		{"rate limited", 429, `{"ok":false,"error_code":429,"description":"Too Many Requests"}`, apperrors.Unavailable},
		{"bad gateway", 502, `<html>bad gateway</html>`, apperrors.Unavailable},
		{"ok false", 200, `{"ok":false,"description":"weird"}`, apperrors.Notifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			err := c.SendText(context.Background(), "x")
			if !apperrors.IsCode(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetUpdatesGarbledBody(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	})
	_, err := c.GetUpdates(context.Background(), 1, time.Second)
	if !apperrors.IsCode(err, apperrors.RemotePoll) {
		t.Errorf("err = %v, want RemotePoll", err)
	}
}

func TestDeadlineIsTimeout(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.SendText(ctx, "x")
	if !apperrors.IsCode(err, apperrors.Timeout) {
		t.Errorf("err = %v, want Timeout", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("error leaks the token: %v", err)
	}
}

func TestErrorsHideToken(t *testing.T) {
	c := New("http://127.0.0.1:1", token, "42")
	err := c.SendText(context.Background(), "x")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("error leaks the token: %v", err)
	}
	if !apperrors.IsCode(err, apperrors.Unavailable) {
		t.Errorf("err = %v, want Unavailable", err)
	}
}

func TestNewDefaults(t *testing.T) {
	c := New("", token, "7")
	if got := fmt.Sprintf(c.endpoint, token, "getMe"); got != DefaultBaseURL+"/bot"+token+"/getMe" {
		t.Errorf("endpoint = %q", got)
	}
	if c.chat.ChatID != 7 || c.chat.ChannelUsername != "" {
		t.Errorf("chat = %+v", c.chat)
	}

	ch := New("", token, "@alerts")
	if ch.chat.ChatID != 0 || ch.chat.ChannelUsername != "@alerts" {
		t.Errorf("channel chat = %+v", ch.chat)
	}
}
