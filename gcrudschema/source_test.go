package gcrudschema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmego/gcrud"
	"github.com/lemmego/gcrud/gcrudsql/sqltest"
)

// withoutKeys clears the primary keys the loaders derive from @id fields
func withoutKeys(entities []gcrud.EntityDescriptor) []gcrud.EntityDescriptor {
	out := make([]gcrud.EntityDescriptor, len(entities))
	for i, e := range entities {
		e.PrimaryKey = nil
		out[i] = e
	}
	return out
}

func TestFileSourcesMatchSuiteSchema(t *testing.T) {
	for _, path := range []string{"testdata/schema.prisma", "testdata/schema.yaml"} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			source, err := FileSource(path)
			require.NoError(t, err)
			assert.Equal(t, path, source.Name())

			entities, err := source.Load(context.Background())
			require.NoError(t, err)
			require.Len(t, entities, 3)
			for _, e := range entities {
				assert.Equal(t, []string{"id"}, e.PrimaryKey, e.Name)
			}
			assert.Equal(t, sqltest.Entities(), withoutKeys(entities))
		})
	}
}

func TestLoadedSchemaResolvesRelations(t *testing.T) {
	source, err := FileSource("testdata/schema.prisma")
	require.NoError(t, err)

	registry, err := gcrud.NewSchemaProvider(source).LoadSchema(context.Background())
	require.NoError(t, err)

	roles, err := registry.Relation("User", "roles")
	require.NoError(t, err)
	assert.Equal(t, gcrud.RelationKindManyToMany, roles.Kind)
	assert.Equal(t, "_RoleToUser", roles.JoinTable)

	assignee, err := registry.Relation("Ticket", "assignee")
	require.NoError(t, err)
	assert.Equal(t, gcrud.RelationKindToOne, assignee.Kind)
}

func TestFileSourceRejects(t *testing.T) {
	_, err := FileSource("")
	assert.True(t, gcrud.IsValidation(err))

	_, err = FileSource("schema.json")
	assert.True(t, gcrud.IsValidation(err))

	source, err := FileSource("testdata/missing.yml")
	require.NoError(t, err)
	_, err = source.Load(context.Background())
	assert.True(t, gcrud.IsSchemaNotFound(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = PrismaSource{Path: "testdata/schema.prisma"}.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParsePrismaAttributes(t *testing.T) {
	src := `
/// Team membership
/// @display team.name
model Membership {
  teamId    Int
  userId    Int      @map("user_id")
  /// when the row last changed
  updatedAt DateTime @updatedAt
  note      String?  @db.VarChar(255) @default("")
  legacy    Unsupported("circle")?
  team      Team     @relation("Members", fields: [teamId], references: [id], onDelete: Cascade)

  @@id([teamId, userId])
  @@unique(fields: [userId, note(length: 10)])
  @@index([userId])
  @@map("memberships")
}

model Team {
  id      Int          @id
  members Membership[] @relation("Members")
}
`
	entities, err := ParsePrisma(src)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	m := entities[0]
	assert.Equal(t, "Membership", m.Name)
	assert.Equal(t, "memberships", m.DBName)
	assert.Equal(t, "Team membership", m.Documentation)
	assert.Equal(t, []string{"team.name"}, m.DisplayFields)
	assert.Equal(t, []string{"teamId", "userId"}, m.PrimaryKey)
	assert.Equal(t, [][]string{{"userId", "note"}}, m.UniqueFields)
	require.Len(t, m.Fields, 5, "unsupported fields are dropped")

	userID, _ := m.Field("userId")
	assert.Equal(t, "user_id", userID.DBName)

	updatedAt, _ := m.Field("updatedAt")
	assert.True(t, updatedAt.IsUpdatedAt)
	assert.Equal(t, "when the row last changed", updatedAt.Documentation)

	note, _ := m.Field("note")
	assert.True(t, note.HasDefault)
	assert.False(t, note.IsRequired)

	team, _ := m.Field("team")
	assert.True(t, team.IsRelation)
	assert.Equal(t, "Members", team.RelationName)
	assert.Equal(t, []string{"teamId"}, team.RelationFromFields)
	assert.Equal(t, []string{"id"}, team.RelationToFields)

	members, _ := entities[1].Field("members")
	assert.Equal(t, "Members", members.RelationName)
	assert.True(t, members.IsList)
	assert.True(t, members.IsRequired)
}

func TestParsePrismaErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown type", "model A {\n  id Int @id\n  b Missing\n}"},
		{"unclosed model", "model A {\n  id Int @id\n"},
		{"stray text", "id Int"},
		{"unbalanced attribute", "model A {\n  id Int @default(now(\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrisma(tt.src)
			assert.True(t, gcrud.IsValidation(err), "got %v", err)
		})
	}
}

func TestParseYAMLErrors(t *testing.T) {
	_, err := ParseYAML([]byte("entities: [{name: A, fields: [{name: b, type: Nope}]}]"))
	assert.True(t, gcrud.IsValidation(err))

	_, err = ParseYAML([]byte("entities: [{fields: []}]"))
	assert.True(t, gcrud.IsValidation(err))

	_, err = ParseYAML([]byte("entities: {"))
	assert.True(t, gcrud.IsValidation(err))
}

func TestYAMLSourceFromTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
entities:
  - name: Tag
    primaryKey: [slug]
    unique: [[slug, label]]
    fields:
      - {name: slug, type: String, column: tag_slug}
      - {name: label, type: String, doc: shown in lists}
`), 0o644))

	entities, err := YAMLSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, []string{"slug"}, entities[0].PrimaryKey)
	assert.Equal(t, [][]string{{"slug", "label"}}, entities[0].UniqueFields)
	assert.Equal(t, "tag_slug", entities[0].Fields[0].Column())
	assert.Equal(t, "shown in lists", entities[0].Fields[1].Documentation)
}
