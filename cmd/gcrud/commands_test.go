package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmego/gcrud"
	"github.com/lemmego/gcrud/gcrudredis"
)

const schemaPath = "../../gcrudschema/testdata/schema.prisma"

// writeConfig writes a config for the memory adapter plus extra yaml lines
func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	schema, err := filepath.Abs(schemaPath)
	require.NoError(t, err)

	lines := append([]string{
		"adapter: memory",
		"schema: " + schema,
		"search:",
		"  default_limit: 5",
	}, extra...)
	path := filepath.Join(t.TempDir(), "gcrud.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, "", "schema", "--config", writeConfig(t))
	require.NoError(t, err)

	var entities []entityOutput
	require.NoError(t, json.Unmarshal([]byte(out), &entities))
	require.Len(t, entities, 3)
	assert.Equal(t, "Role", entities[0].Name)
	assert.Equal(t, "User", entities[2].Name)
	assert.Equal(t, "users", entities[2].Table)
	assert.Equal(t, []string{"id"}, entities[2].PrimaryKey)

	var roles *relationOutput
	for _, f := range entities[2].Fields {
		if f.Name == "roles" {
			roles = f.Relation
		}
	}
	require.NotNil(t, roles)
	assert.Equal(t, "Role", roles.Target)
	assert.Equal(t, "many-to-many", roles.Kind)
	assert.Equal(t, "users", roles.Opposite)
	assert.Equal(t, "_RoleToUser", roles.JoinTable)
}

func TestSchemaCommandUnknownEntity(t *testing.T) {
	_, err := run(t, "", "schema", "Invoice", "--config", writeConfig(t))
	assert.True(t, gcrud.IsErrorType(err, gcrud.ErrorTypeUnknownEntity), "got %v", err)
}

func TestCompileCommand(t *testing.T) {
	req := `{"filters": [{"status": {"mode": "EQ", "value": "open"}}], "offset": 10}`
	out, err := run(t, req, "compile", "--config", writeConfig(t), "--entity", "Ticket")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]any{
		"OR": []any{map[string]any{"status": map[string]any{"contains": "open", "mode": "insensitive"}}},
	}, got["where"])
	assert.Equal(t, map[string]any{"id": true, "title": true, "status": true}, got["select"])
	assert.Equal(t, []any{map[string]any{"id": "asc"}}, got["orderBy"])
	assert.Equal(t, float64(10), got["skip"])
	assert.Equal(t, float64(5), got["take"], "limit comes from search.default_limit")
}

func TestCompileCommandRejectsUnknownMode(t *testing.T) {
	req := `{"filters": [{"status": {"mode": "FOO", "value": "open"}}]}`
	_, err := run(t, req, "compile", "--config", writeConfig(t), "--entity", "Ticket")
	assert.True(t, gcrud.IsErrorType(err, gcrud.ErrorTypeUnsupportedFilterMode), "got %v", err)
}

func TestCompileCommandNeedsEntity(t *testing.T) {
	_, err := run(t, "{}", "compile", "--config", writeConfig(t))
	assert.Error(t, err)
}

func TestSearchCommandOnEmptyStore(t *testing.T) {
	out, err := run(t, "{}", "search", "--config", writeConfig(t), "--entity", "User")
	require.NoError(t, err)

	var result gcrud.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(0), result.Total)
	assert.Empty(t, result.Items)
}

func TestCreateCommandPublishesToRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub, err := gcrudredis.NewPublisher(client, gcrudredis.WithPrefix("cli")).Subscribe(context.Background(), "User")
	require.NoError(t, err)
	defer sub.Close()

	config := writeConfig(t,
		"events:",
		"  redis_addr: "+mr.Addr(),
		"  channel_prefix: cli",
	)
	out, err := run(t, `{"email": "ann@example.com", "name": "Ann"}`,
		"create", "--config", config, "--entity", "User")
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, "ann@example.com", record["email"])
	assert.Equal(t, float64(1), record["id"])

	select {
	case ev := <-sub.Events():
		assert.Equal(t, gcrud.EventCreate, ev.Kind)
		assert.Equal(t, "User", ev.Entity)
		assert.Equal(t, "Ann", ev.Data["name"])
	case <-time.After(2 * time.Second):
		t.Fatal("create event not published")
	}
}

func TestRecordCommandsValidateInput(t *testing.T) {
	config := writeConfig(t)

	_, err := run(t, "", "get", "--config", config, "--entity", "User", "--id", "abc")
	assert.True(t, gcrud.IsValidation(err), "got %v", err)

	_, err = run(t, "not json", "create", "--config", config, "--entity", "User")
	assert.True(t, gcrud.IsValidation(err), "got %v", err)

	_, err = run(t, "", "delete", "--config", config, "--entity", "User", "--id", "7")
	assert.True(t, gcrud.IsNotFound(err), "got %v", err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "", "schema", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, gcrud.IsValidation(err), "got %v", err)
}

func TestParseID(t *testing.T) {
	user := &gcrud.EntityDescriptor{
		Name:   "User",
		Fields: []gcrud.FieldDescriptor{{Name: "id", Type: gcrud.FieldTypeInt, IsID: true}},
	}
	id, err := parseID(user, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	tag := &gcrud.EntityDescriptor{
		Name:       "Tag",
		PrimaryKey: []string{"slug"},
		Fields:     []gcrud.FieldDescriptor{{Name: "slug", Type: gcrud.FieldTypeString, IsID: true}},
	}
	id, err = parseID(tag, "go")
	require.NoError(t, err)
	assert.Equal(t, "go", id)
}
