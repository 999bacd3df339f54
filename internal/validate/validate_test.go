// SPDX-License-Identifier: MIT
package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:8765", false},
		{":8765", false},
		{"localhost:0", false},
		{"[::1]:80", false},
		{"8765", true},
		{"host:http", true},
		{"host:70000", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			v := New()
			v.ListenAddr("server.listen_addr", tt.addr)
			assert.Equal(t, tt.wantErr, !v.IsValid())
		})
	}
}

func TestValidator_Range(t *testing.T) {
	v := New()
	v.Range("jobs", 0, 1, 8)
	v.Range("jobs", 9, 1, 8)
	v.Range("jobs", 4, 1, 8)
	assert.Len(t, v.Errors(), 2)
}

func TestValidator_Directory(t *testing.T) {
	dir := t.TempDir()

	v := New()
	v.Directory("data_dir", dir, true)
	assert.True(t, v.IsValid())

	created := filepath.Join(dir, "new", "nested")
	v = New()
	v.Directory("data_dir", created, false)
	assert.True(t, v.IsValid())
	assert.DirExists(t, created)

	v = New()
	v.Directory("data_dir", filepath.Join(dir, "missing"), true)
	assert.False(t, v.IsValid())

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	v = New()
	v.Directory("data_dir", file, false)
	assert.False(t, v.IsValid())

	v = New()
	v.Directory("data_dir", "", false)
	assert.False(t, v.IsValid())
}

func TestValidator_OneOfAndNotEmpty(t *testing.T) {
	v := New()
	v.OneOf("mode", "ask", []string{"ask", "auto_rename"})
	v.NotEmpty("name", "x")
	assert.True(t, v.IsValid())

	v.OneOf("mode", "maybe", []string{"ask", "auto_rename"})
	v.NotEmpty("name", "   ")
	assert.Len(t, v.Errors(), 2)
}

func TestValidationErrorAggregates(t *testing.T) {
	v := New()
	assert.NoError(t, v.Err())

	v.AddError("a", "first", 1)
	err := v.Err()
	require.Error(t, err)
	assert.Equal(t, "validation failed for a: first", err.Error())

	v.AddError("b", "second", 2)
	v.AddError("a", "third", 3)
	err = v.Err()

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors(), 3)
	assert.Equal(t, map[string]string{"a": "first", "b": "second"}, ve.Fields())
	assert.Contains(t, err.Error(), "; ")
}

func TestLogLevelsOrdered(t *testing.T) {
	assert.Equal(t, []string{"debug", "info", "warn", "error"}, LogLevels)
}
