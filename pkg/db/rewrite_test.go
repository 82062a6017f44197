package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewrite_NativeIsIdentity(t *testing.T) {
	sql := "SELECT * FROM tasks WHERE id = ? AND status = ?"
	out, err := Rewrite(Native, sql)
	require.NoError(t, err)
	assert.Equal(t, sql, out)
}

func TestRewrite_PlaceholderNumbering(t *testing.T) {
	out, err := Rewrite(Secondary, "SELECT * FROM tasks WHERE id = ? AND status = ?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM tasks WHERE id = $1 AND status = $2", out)
}

func TestRewrite_PlaceholderIgnoredInsideStringLiteral(t *testing.T) {
	out, err := Rewrite(Secondary, "SELECT '?' FROM tasks WHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT '?' FROM tasks WHERE id = $1", out)
}

func TestRewrite_PlaceholderIgnoredInsideLineComment(t *testing.T) {
	out, err := Rewrite(Secondary, "SELECT 1 -- what about ?\nWHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 -- what about ?\nWHERE id = $1", out)
}

func TestRewrite_PlaceholderIgnoredInsideBlockComment(t *testing.T) {
	out, err := Rewrite(Secondary, "SELECT 1 /* skip ? here */ WHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 /* skip ? here */ WHERE id = $1", out)
}

func TestRewrite_EscapedQuoteInsideStringLiteral(t *testing.T) {
	out, err := Rewrite(Secondary, "SELECT 'it''s ?' FROM tasks WHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'it''s ?' FROM tasks WHERE id = $1", out)
}

func TestRewrite_JSONOperatorRejected(t *testing.T) {
	_, err := Rewrite(Secondary, "SELECT * FROM routes WHERE destination_config ?| array['a','b']")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous JSON operator")
}

func TestRewrite_JSONOperatorInsideStringIsSafe(t *testing.T) {
	out, err := Rewrite(Secondary, "SELECT '?|' AS literal WHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT '?|' AS literal WHERE id = $1", out)
}

func TestRewrite_DatetimeNow(t *testing.T) {
	out, err := Rewrite(Secondary, "UPDATE tasks SET updated_at = datetime('now') WHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE tasks SET updated_at = NOW() WHERE id = $1", out)
}

func TestRewrite_DatetimeNowWithPositiveOffset(t *testing.T) {
	out, err := Rewrite(Secondary, "SELECT datetime('now', '+30 minutes')")
	require.NoError(t, err)
	assert.Equal(t, "SELECT (NOW() + INTERVAL '30 minutes')", out)
}

func TestRewrite_DatetimeNowWithNegativeOffset(t *testing.T) {
	out, err := Rewrite(Secondary, "SELECT datetime('now', '-1 day')")
	require.NoError(t, err)
	assert.Equal(t, "SELECT (NOW() - INTERVAL '1 day')", out)
}

func TestRewrite_InsertOrIgnore(t *testing.T) {
	out, err := Rewrite(Secondary, "INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING", out)
}

func TestRewrite_NoRewritableConstructIsIdentity(t *testing.T) {
	sql := "SELECT id, name FROM agents WHERE status = 'active'"
	out, err := Rewrite(Secondary, sql)
	require.NoError(t, err)
	assert.Equal(t, sql, out)
}
