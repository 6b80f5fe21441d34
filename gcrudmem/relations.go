package gcrudmem

import (
	"fmt"

	"github.com/lemmego/gcrud"
)

// related returns the rows of field's target that are linked to row. Callers hold p.mu.
func (p *Provider) related(entity string, row gcrud.Record, field string) ([]gcrud.Record, error) {
	info, err := p.schema.Relation(entity, field)
	if err != nil {
		return nil, err
	}
	target, err := p.table(info.Target.Name)
	if err != nil {
		return nil, err
	}

	var out []gcrud.Record
	switch info.Kind {
	case gcrud.RelationKindToOne:
		from, to := info.Field.RelationFromFields, toFields(info.Field, info.Target)
		for _, r := range target.rows {
			if keysEqual(row, from, r, to) {
				out = append(out, r)
			}
		}
	case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
		from, to := info.Opposite.RelationFromFields, toFields(info.Opposite, info.Owner)
		for _, r := range target.rows {
			if keysEqual(r, from, row, to) {
				out = append(out, r)
			}
		}
	case gcrud.RelationKindManyToMany:
		ownerKey := row[info.Owner.PrimaryKeyField()]
		targetPK := info.Target.PrimaryKeyField()
		for _, l := range p.joins[info.JoinTable] {
			ownerSide, targetSide := l.sides(info)
			if !equal(ownerSide, ownerKey) {
				continue
			}
			for _, r := range target.rows {
				if equal(r[targetPK], targetSide) {
					out = append(out, r)
				}
			}
		}
	}
	return out, nil
}

// applyRelation performs one relation directive for row. Callers hold p.mu for writing.
func (p *Provider) applyRelation(entity string, row gcrud.Record, field string, directive any) error {
	op, operand, ok := gcrud.RelationDirective(directive)
	if !ok {
		return gcrud.NewError(gcrud.ErrorTypeValidation,
			fmt.Sprintf("relation %s.%s: expected a single {operation: value} directive", entity, field))
	}
	info, err := p.schema.Relation(entity, field)
	if err != nil {
		return err
	}

	switch op {
	case gcrud.RelationSet, gcrud.RelationConnect, gcrud.RelationDisconnect:
	default:
		return gcrud.NewError(gcrud.ErrorTypeUnsupported,
			fmt.Sprintf("relation operation %q is not supported by the memory store", op))
	}

	disconnectAll := op == gcrud.RelationDisconnect && operand == true
	ids := gcrud.DirectiveIDs(operand)
	if !disconnectAll {
		if err := p.requireTargets(info.Target, ids); err != nil {
			return err
		}
	}

	switch info.Kind {
	case gcrud.RelationKindToOne:
		from, to := info.Field.RelationFromFields, toFields(info.Field, info.Target)
		if op == gcrud.RelationDisconnect {
			for _, k := range from {
				row[k] = nil
			}
			return nil
		}
		if len(ids) != 1 {
			return gcrud.NewError(gcrud.ErrorTypeValidation,
				fmt.Sprintf("relation %s.%s takes exactly one id", entity, field))
		}
		t := p.findByPK(info.Target, ids[0])
		for i, k := range from {
			row[k] = t[to[i]]
		}

	case gcrud.RelationKindToOneInverse, gcrud.RelationKindOneToMany:
		from, to := info.Opposite.RelationFromFields, toFields(info.Opposite, info.Owner)
		current, err := p.related(entity, row, field)
		if err != nil {
			return err
		}
		if op == gcrud.RelationSet || disconnectAll {
			for _, r := range current {
				clearKeys(r, from)
			}
		}
		if op == gcrud.RelationDisconnect && !disconnectAll {
			for _, id := range ids {
				if t := p.findByPK(info.Target, id); t != nil && keysEqual(t, from, row, to) {
					clearKeys(t, from)
				}
			}
			return nil
		}
		if op != gcrud.RelationDisconnect {
			for _, id := range ids {
				t := p.findByPK(info.Target, id)
				for i, k := range from {
					t[k] = row[to[i]]
				}
			}
		}

	case gcrud.RelationKindManyToMany:
		ownerKey := row[info.Owner.PrimaryKeyField()]
		if op == gcrud.RelationSet || disconnectAll {
			p.unlink(info, ownerKey, nil)
		}
		if op == gcrud.RelationDisconnect && !disconnectAll {
			p.unlink(info, ownerKey, ids)
			return nil
		}
		if op != gcrud.RelationDisconnect {
			for _, id := range ids {
				p.link(info, ownerKey, id)
			}
		}
	}
	return nil
}

func (p *Provider) requireTargets(target *gcrud.EntityDescriptor, ids []any) error {
	for _, id := range ids {
		if p.findByPK(target, id) == nil {
			return gcrud.ErrNotFound(target.Name, id)
		}
	}
	return nil
}

func (p *Provider) findByPK(entity *gcrud.EntityDescriptor, id any) gcrud.Record {
	t := p.tables[entity.Name]
	if t == nil {
		return nil
	}
	pk := entity.PrimaryKeyField()
	for _, r := range t.rows {
		if equal(r[pk], id) {
			return r
		}
	}
	return nil
}

func (p *Provider) link(info *gcrud.RelationInfo, ownerKey, targetKey any) {
	for _, l := range p.joins[info.JoinTable] {
		o, t := l.sides(info)
		if equal(o, ownerKey) && equal(t, targetKey) {
			return
		}
	}
	l := link{a: ownerKey, b: targetKey}
	if info.OwnerColumn == "B" {
		l = link{a: targetKey, b: ownerKey}
	}
	p.joins[info.JoinTable] = append(p.joins[info.JoinTable], l)
}

// unlink removes links of ownerKey, limited to targets when targets is non-nil
func (p *Provider) unlink(info *gcrud.RelationInfo, ownerKey any, targets []any) {
	kept := p.joins[info.JoinTable][:0]
	for _, l := range p.joins[info.JoinTable] {
		o, t := l.sides(info)
		if equal(o, ownerKey) && (targets == nil || contains(targets, t)) {
			continue
		}
		kept = append(kept, l)
	}
	p.joins[info.JoinTable] = kept
}

// unlinkRow removes every join row that references key of entity
func (p *Provider) unlinkRow(entity *gcrud.EntityDescriptor, key any) {
	for _, f := range entity.Fields {
		if !f.IsRelation {
			continue
		}
		info, err := p.schema.Relation(entity.Name, f.Name)
		if err != nil || info.Kind != gcrud.RelationKindManyToMany {
			continue
		}
		p.unlink(info, key, nil)
	}
}

// sides returns the owner and target values of l for info's direction
func (l link) sides(info *gcrud.RelationInfo) (owner, target any) {
	if info.OwnerColumn == "A" {
		return l.a, l.b
	}
	return l.b, l.a
}

// toFields returns the referenced fields of a foreign key, the primary key when unset
func toFields(f *gcrud.FieldDescriptor, referenced *gcrud.EntityDescriptor) []string {
	if len(f.RelationToFields) > 0 {
		return f.RelationToFields
	}
	out := make([]string, len(f.RelationFromFields))
	for i := range out {
		out[i] = referenced.PrimaryKeyField()
	}
	return out
}

func keysEqual(a gcrud.Record, aKeys []string, b gcrud.Record, bKeys []string) bool {
	if len(aKeys) == 0 || len(aKeys) != len(bKeys) {
		return false
	}
	for i := range aKeys {
		av, bv := a[aKeys[i]], b[bKeys[i]]
		if av == nil || bv == nil || !equal(av, bv) {
			return false
		}
	}
	return true
}

func clearKeys(r gcrud.Record, keys []string) {
	for _, k := range keys {
		r[k] = nil
	}
}

func contains(list []any, v any) bool {
	for _, e := range list {
		if equal(e, v) {
			return true
		}
	}
	return false
}
