package gcrudsql

import (
	"context"
	"fmt"
	"strings"

	"github.com/lemmego/gcrud"
)

type directive struct {
	info    *gcrud.RelationInfo
	op      gcrud.RelationOperation
	operand any
}

// all reports a bare {disconnect: true}
func (d directive) all() bool {
	return d.op == gcrud.RelationDisconnect && d.operand == true
}

// resolveForeignKeys turns to-one directives into foreign key values in
// scalars and returns the directives that must run after the row is written
func (s *Store) resolveForeignKeys(ctx context.Context, tx Executor, scalars, relations map[string]any) ([]directive, error) {
	var later []directive
	for _, name := range gcrud.SortedKeys(relations) {
		op, operand, ok := gcrud.RelationDirective(relations[name])
		if !ok {
			return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("relation %s.%s: expected a single {operation: value} directive", s.entity.Name, name))
		}
		switch op {
		case gcrud.RelationSet, gcrud.RelationConnect, gcrud.RelationDisconnect:
		default:
			return nil, gcrud.NewError(gcrud.ErrorTypeUnsupported,
				fmt.Sprintf("relation operation %q is not supported by the sql store", op))
		}
		info, err := s.reg.Relation(s.entity.Name, name)
		if err != nil {
			return nil, err
		}
		d := directive{info: info, op: op, operand: operand}
		if info.Kind != gcrud.RelationKindToOne {
			later = append(later, d)
			continue
		}

		fk, ref, err := foreignKey(info.Field, info.Owner, info.Target)
		if err != nil {
			return nil, err
		}
		if op == gcrud.RelationDisconnect {
			scalars[fk.Name] = nil
			continue
		}
		ids := gcrud.DirectiveIDs(operand)
		if len(ids) != 1 {
			return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("relation %s.%s takes exactly one id", s.entity.Name, name))
		}
		rows, err := s.targetRows(ctx, tx, info.Target, ids, ref)
		if err != nil {
			return nil, err
		}
		scalars[fk.Name] = rows[0][ref.Name]
	}
	return later, nil
}

// applyRelations runs directives for the owner row id
func (s *Store) applyRelations(ctx context.Context, tx Executor, id any, directives []directive) error {
	for _, d := range directives {
		ids := gcrud.DirectiveIDs(d.operand)
		if !d.all() {
			if _, err := s.targetRows(ctx, tx, d.info.Target, ids, nil); err != nil {
				return err
			}
		}

		var err error
		switch d.info.Kind {
		case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
			err = s.applyInverse(ctx, tx, d, id, ids)
		case gcrud.RelationKindManyToMany:
			err = s.applyManyToMany(ctx, tx, d, id, ids)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyInverse(ctx context.Context, tx Executor, d directive, id any, ids []any) error {
	info := d.info
	fk, ref, err := foreignKey(info.Opposite, info.Target, info.Owner)
	if err != nil {
		return err
	}
	if ref.Name != info.Owner.PrimaryKeyField() {
		return gcrud.NewError(gcrud.ErrorTypeUnsupported,
			fmt.Sprintf("relation %s.%s must reference the primary key to be written", info.Owner.Name, info.Field.Name))
	}
	targetPK, _ := info.Target.Field(info.Target.PrimaryKeyField())

	// clear the current links, or only the named ones
	if d.op == gcrud.RelationSet || d.op == gcrud.RelationDisconnect {
		b := newBuilder(s.reg, s.dialect)
		owner, err := b.bind(ref, id)
		if err != nil {
			return err
		}
		query := "UPDATE " + b.table(info.Target) + " SET " + b.q(fk.Column()) + " = NULL WHERE " + b.q(fk.Column()) + " = " + owner
		if d.op == gcrud.RelationDisconnect && !d.all() {
			if len(ids) == 0 {
				return nil
			}
			marks, err := b.bindList(targetPK, ids)
			if err != nil {
				return err
			}
			query += " AND " + b.q(targetPK.Column()) + " IN " + marks
		}
		if _, err := s.execute(ctx, tx, query, b.args); err != nil {
			return err
		}
	}
	if d.op == gcrud.RelationDisconnect || len(ids) == 0 {
		return nil
	}

	b := newBuilder(s.reg, s.dialect)
	owner, err := b.bind(fk, id)
	if err != nil {
		return err
	}
	marks, err := b.bindList(targetPK, ids)
	if err != nil {
		return err
	}
	_, err = s.execute(ctx, tx, "UPDATE "+b.table(info.Target)+" SET "+b.q(fk.Column())+" = "+owner+
		" WHERE "+b.q(targetPK.Column())+" IN "+marks, b.args)
	return err
}

func (s *Store) applyManyToMany(ctx context.Context, tx Executor, d directive, id any, ids []any) error {
	switch {
	case d.op == gcrud.RelationSet || d.all():
		if err := s.unlink(ctx, tx, d.info, id, nil); err != nil {
			return err
		}
	default:
		// connect and disconnect both start by removing the named pairs
		if len(ids) == 0 {
			return nil
		}
		if err := s.unlink(ctx, tx, d.info, id, ids); err != nil {
			return err
		}
	}
	if d.op == gcrud.RelationDisconnect {
		return nil
	}

	ownerPK, targetPK, err := primaryKeys(d.info)
	if err != nil {
		return err
	}
	for _, target := range ids {
		b := newBuilder(s.reg, s.dialect)
		o, err := b.bind(ownerPK, id)
		if err != nil {
			return err
		}
		t, err := b.bind(targetPK, target)
		if err != nil {
			return err
		}
		query := "INSERT INTO " + b.q(d.info.JoinTable) + " (" + b.q(d.info.OwnerColumn) + ", " + b.q(d.info.TargetColumn) + ")" +
			" VALUES (" + o + ", " + t + ")"
		if _, err := s.execute(ctx, tx, query, b.args); err != nil {
			return err
		}
	}
	return nil
}

// unlink deletes join rows of the owner, limited to targets when targets is non-nil
func (s *Store) unlink(ctx context.Context, tx Executor, info *gcrud.RelationInfo, id any, targets []any) error {
	ownerPK, targetPK, err := primaryKeys(info)
	if err != nil {
		return err
	}
	b := newBuilder(s.reg, s.dialect)
	owner, err := b.bind(ownerPK, id)
	if err != nil {
		return err
	}
	query := "DELETE FROM " + b.q(info.JoinTable) + " WHERE " + b.q(info.OwnerColumn) + " = " + owner
	if targets != nil {
		marks, err := b.bindList(targetPK, dedupe(targets))
		if err != nil {
			return err
		}
		query += " AND " + b.q(info.TargetColumn) + " IN " + marks
	}
	_, err = s.execute(ctx, tx, query, b.args)
	return err
}

// targetRows reads the rows of target with the given primary keys and fails
// with not_found unless every id exists. Only the primary key and extra are read.
func (s *Store) targetRows(ctx context.Context, tx Executor, target *gcrud.EntityDescriptor, ids []any, extra *gcrud.FieldDescriptor) ([]gcrud.Record, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	pk, _ := target.Field(target.PrimaryKeyField())

	b := newBuilder(s.reg, s.dialect)
	t := b.alias()
	cols := []string{b.col(t, pk) + " AS " + b.q(pk.Name)}
	if extra != nil && extra.Name != pk.Name {
		cols = append(cols, b.col(t, extra)+" AS "+b.q(extra.Name))
	}
	marks, err := b.bindList(pk, ids)
	if err != nil {
		return nil, err
	}
	raw, err := s.query(ctx, tx, "SELECT "+strings.Join(cols, ", ")+" FROM "+b.table(target)+" "+t+
		" WHERE "+b.col(t, pk)+" IN "+marks, b.args)
	if err != nil {
		return nil, err
	}

	found := make(map[string]gcrud.Record, len(raw))
	for _, r := range raw {
		row := gcrud.Record{pk.Name: decode(pk, r[pk.Name])}
		if extra != nil {
			row[extra.Name] = decode(extra, r[extra.Name])
		}
		found[keyOf(row[pk.Name])] = row
	}
	rows := make([]gcrud.Record, 0, len(ids))
	for _, id := range ids {
		row, ok := found[keyOf(id)]
		if !ok {
			return nil, gcrud.ErrNotFound(target.Name, id)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func dedupe(ids []any) []any {
	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if k := keyOf(id); !seen[k] {
			seen[k] = true
			out = append(out, id)
		}
	}
	return out
}
