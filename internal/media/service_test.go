/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/soundcommons/etherwave/internal/config"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{MediaRoot: dir}
	svc, err := NewService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, dir
}

func TestStoreAudioWritesHierarchicalPath(t *testing.T) {
	svc, dir := newTestService(t)

	id := "a1b2c3d4-0000-0000-0000-000000000000"
	key, url, err := svc.StoreAudio(context.Background(), id, ".mp3", "audio/mpeg", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("StoreAudio: %v", err)
	}

	wantKey := "audio/a1/b2/" + id + ".mp3"
	if key != wantKey {
		t.Errorf("key = %q, want %q", key, wantKey)
	}
	if url != "/media/"+wantKey {
		t.Errorf("url = %q, want %q", url, "/media/"+wantKey)
	}

	data, err := os.ReadFile(filepath.Join(dir, "audio", "a1", "b2", id+".mp3"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("stored content = %q", data)
	}
}

func TestStoreCoverUsesCoversPrefix(t *testing.T) {
	svc, _ := newTestService(t)

	key, _, err := svc.StoreCover(context.Background(), "deadbeef-1111", ".jpg", "image/jpeg", strings.NewReader("img"))
	if err != nil {
		t.Fatalf("StoreCover: %v", err)
	}
	if !strings.HasPrefix(key, "covers/") {
		t.Errorf("key = %q, want covers/ prefix", key)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	svc, dir := newTestService(t)

	id := "11223344-aaaa"
	key, _, err := svc.StoreAudio(context.Background(), id, ".ogg", "audio/ogg", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("StoreAudio: %v", err)
	}

	if err := svc.Delete(context.Background(), key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(key))); !os.IsNotExist(err) {
		t.Errorf("file still exists after delete")
	}
}

func TestDeleteMissingKeyIsNoError(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.Delete(context.Background(), "audio/no/such/file.mp3"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
	if err := svc.Delete(context.Background(), ""); err != nil {
		t.Errorf("Delete empty key: %v", err)
	}
}

func TestCheckStorageAccess(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.CheckStorageAccess(); err != nil {
		t.Errorf("CheckStorageAccess: %v", err)
	}

	cfg := &config.Config{MediaRoot: "/nonexistent/etherwave-test"}
	missing, err := NewService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := missing.CheckStorageAccess(); err == nil {
		t.Errorf("expected error for missing media root")
	}
}

func TestURLAbsoluteWithBaseURL(t *testing.T) {
	cfg := &config.Config{MediaRoot: t.TempDir(), BaseURL: "https://radio.example.org/"}
	svc, err := NewService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, url, err := svc.StoreAudio(context.Background(), "abcd1234", ".mp3", "audio/mpeg", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("StoreAudio: %v", err)
	}
	if !strings.HasPrefix(url, "https://radio.example.org/media/audio/") {
		t.Errorf("url = %q", url)
	}
}

func TestBuildMediaKeyShortID(t *testing.T) {
	if got := buildMediaKey("audio", "ab", ".mp3"); got != "audio/ab.mp3" {
		t.Errorf("short id key = %q", got)
	}
}
