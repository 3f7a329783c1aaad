// Copyright (c) 2024, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package commitcheck implements the schema-driven validation run over
// the post-apply root (spec.md §4.5): min/max-elements, mandatory,
// choice consistency, must, unique and leafref/instance-identifier
// resolution, with the per-object test flags precomputed at schema
// load deciding what applies where.
package commitcheck

import (
	"strings"
	"sync"

	"github.com/danos/confd/datastore"
	"github.com/danos/confd/mgmterror"
	"github.com/danos/confd/schema"
	"github.com/danos/confd/txn"
	"github.com/danos/confd/xpath"
)

// Checker evaluates the commit tests. One Checker is shared across
// transactions; per-object results are cached and reused while the
// transaction id matches.
type Checker struct {
	Eval xpath.Evaluator

	mu    sync.Mutex
	cache map[*schema.SchemaObject]*cachedResult
}

type cachedResult struct {
	txid uint64
	errs []*mgmterror.Error
}

func New(eval xpath.Evaluator) *Checker {
	return &Checker{
		Eval:  eval,
		cache: make(map[*schema.SchemaObject]*cachedResult),
	}
}

// Check runs the applicable tests over root for every relevant schema
// object. For partial edits only objects on, above or below an edited
// path are rechecked; must-expressions may reference anything and are
// never pruned (spec.md §4.5).
func (c *Checker) Check(tx *txn.TxCb, root *datastore.Value, schemaRoot *schema.SchemaObject) *mgmterror.List {
	errs := &mgmterror.List{}
	edited := editedPaths(tx)
	for _, child := range schemaRoot.Children {
		c.checkObject(tx, errs, child, []*datastore.Value{root}, edited)
	}
	return errs
}

func editedPaths(tx *txn.TxCb) []string {
	var out []string
	for _, rec := range tx.Undo {
		if rec.NewNode != nil {
			out = append(out, rec.NewNode.Path())
		}
		if rec.CurNode != nil {
			out = append(out, rec.CurNode.Path())
		}
	}
	return out
}

// relevant applies the pruning rule: a full-tree edit checks
// everything; otherwise an object is rechecked when an edit lies on,
// above or below its path, and always when it carries a must.
func relevant(tx *txn.TxCb, obj *schema.SchemaObject, edited []string) bool {
	if tx.EditType == txn.EditFull {
		return true
	}
	if obj.Tests.Must {
		return true
	}
	op := obj.Path()
	for _, ep := range edited {
		if strings.HasPrefix(ep, op) || strings.HasPrefix(op, ep) {
			return true
		}
	}
	return false
}

func (c *Checker) checkObject(
	tx *txn.TxCb,
	errs *mgmterror.List,
	obj *schema.SchemaObject,
	parents []*datastore.Value,
	edited []string,
) {
	if !obj.IsConfig() {
		return
	}

	if obj.Kind == schema.Choice {
		c.checkChoice(tx, errs, obj, parents, edited)
		return
	}

	var instances []*datastore.Value
	for _, p := range parents {
		instances = append(instances, instancesOf(p, obj)...)
	}

	if relevant(tx, obj, edited) {
		for _, e := range c.objectErrors(tx, obj, parents, instances) {
			errs.Add(e)
		}
	}

	for _, child := range obj.Children {
		c.checkObject(tx, errs, child, instances, edited)
	}
}

// checkChoice verifies per parent instance that at most one case of
// the choice is present, and for a mandatory choice that one is
// (spec.md §4.5 CHOICE). Data nodes never instantiate choice or case;
// member presence is judged through the case's own children.
func (c *Checker) checkChoice(
	tx *txn.TxCb,
	errs *mgmterror.List,
	choice *schema.SchemaObject,
	parents []*datastore.Value,
	edited []string,
) {
	if relevant(tx, choice, edited) {
		for _, p := range parents {
			var present []*schema.SchemaObject
			for _, cs := range choice.Children {
				if caseHasMember(p, cs) {
					present = append(present, cs)
				}
			}
			if len(present) > 1 {
				errs.Add(mgmterror.NewExtraChoiceError(p.Path() + "/" + choice.Name))
			}
			if len(present) == 0 && choice.Mandatory {
				errs.Add(mgmterror.NewMissingChoiceError(choice.Name))
			}
		}
	}
	for _, cs := range choice.Children {
		for _, member := range cs.Children {
			c.checkObject(tx, errs, member, parents, edited)
		}
	}
}

func caseHasMember(parent *datastore.Value, cs *schema.SchemaObject) bool {
	for _, member := range cs.Children {
		if len(instancesOf(parent, member)) > 0 {
			return true
		}
	}
	return false
}

func instancesOf(parent *datastore.Value, obj *schema.SchemaObject) []*datastore.Value {
	var out []*datastore.Value
	for _, ch := range parent.VisibleChildren() {
		if ch.Schema == obj {
			out = append(out, ch)
		}
	}
	return out
}

// objectErrors evaluates the applicable test subset for one schema
// object, consulting the per-transaction cache first.
func (c *Checker) objectErrors(
	tx *txn.TxCb,
	obj *schema.SchemaObject,
	parents, instances []*datastore.Value,
) []*mgmterror.Error {
	c.mu.Lock()
	if cr, ok := c.cache[obj]; ok && cr.txid == tx.Txid {
		c.mu.Unlock()
		return cr.errs
	}
	c.mu.Unlock()

	var out []*mgmterror.Error

	if obj.Tests.MinElems || obj.Tests.MaxElems || obj.Tests.Mandatory || needsPresence(obj) {
		out = append(out, c.instanceCountErrors(obj, parents)...)
	}
	if obj.Tests.Must {
		for _, inst := range instances {
			out = append(out, c.mustErrors(obj, inst)...)
		}
	}
	if obj.Tests.Unique {
		for _, p := range parents {
			out = append(out, c.uniqueErrors(obj, instancesOf(p, obj))...)
		}
	}
	if obj.Tests.XPathType {
		for _, inst := range instances {
			if e := c.xpathTypeError(obj, inst); e != nil {
				out = append(out, e)
			}
		}
	}

	c.mu.Lock()
	c.cache[obj] = &cachedResult{txid: tx.Txid, errs: out}
	c.mu.Unlock()
	return out
}

// needsPresence reports whether an absent instance of obj is itself a
// defect: an NP-container whose mandatory descendants are not all
// guarded by when-statements must exist (spec.md §4.5's suppression
// rule, inverted).
func needsPresence(obj *schema.SchemaObject) bool {
	if obj.Kind != schema.Container || obj.Mandatory {
		return false
	}
	return hasMandatoryDescendant(obj) && !obj.AllMandatoryDescendantsGuarded()
}

func hasMandatoryDescendant(obj *schema.SchemaObject) bool {
	for _, c := range obj.Children {
		if c.Mandatory || (c.Kind == schema.Container && hasMandatoryDescendant(c)) {
			return true
		}
	}
	return false
}

// instanceCountErrors runs the parent-level instance tests: mandatory,
// min-elements, max-elements. A false when-guard on the object
// suppresses the mandatory and min checks for that parent.
func (c *Checker) instanceCountErrors(obj *schema.SchemaObject, parents []*datastore.Value) []*mgmterror.Error {
	var out []*mgmterror.Error
	for _, p := range parents {
		insts := instancesOf(p, obj)
		path := instancePath(p, obj)

		guardFalse := false
		if obj.Tests.When {
			res, err := c.Eval.Evaluate(xpath.Parse(obj.When),
				&xpath.Context{Node: p, ConfigOnly: true}, dataRoot(p), true)
			guardFalse = err == nil && !xpath.AsBool(res)
		}

		if !guardFalse {
			if (obj.Tests.Mandatory || needsPresence(obj)) && len(insts) == 0 {
				out = append(out, mgmterror.NewMissingValInstError(path))
			}
			if obj.Tests.MinElems && len(insts) < obj.MinElements {
				out = append(out, mgmterror.NewMinElemsViolationError(path, obj.MinElements))
			}
		}
		if obj.Tests.MaxElems && len(insts) > obj.MaxElements {
			// The first N entries remain valid; every entry beyond the
			// limit carries the violation.
			for _, extra := range insts[obj.MaxElements:] {
				e := mgmterror.NewMaxElemsViolationError(extra.Path(), obj.MaxElements)
				extra.Res = e
				out = append(out, e)
			}
		}
	}
	return out
}

func instancePath(parent *datastore.Value, obj *schema.SchemaObject) string {
	if parent.Schema != nil && parent.Schema.Kind == schema.RootKind {
		return "/" + obj.Name
	}
	return parent.Path() + "/" + obj.Name
}

func dataRoot(v *datastore.Value) *datastore.Value {
	for v.Parent() != nil {
		v = v.Parent()
	}
	return v
}

func (c *Checker) mustErrors(obj *schema.SchemaObject, inst *datastore.Value) []*mgmterror.Error {
	var out []*mgmterror.Error
	for _, m := range obj.Must {
		res, err := c.Eval.Evaluate(xpath.Parse(m.Expr),
			&xpath.Context{Node: inst, ConfigOnly: true}, dataRoot(inst), true)
		if err != nil {
			out = append(out, mgmterror.NewOperationFailedError(err.Error()).WithPath(inst.Path()))
			continue
		}
		if !xpath.AsBool(res) {
			e := mgmterror.NewMustTestFailedError(inst.Path(), m.Expr)
			if m.ErrorMessage != "" {
				e.WithMessage(m.ErrorMessage)
			}
			inst.Res = e
			out = append(out, e)
		}
	}
	return out
}

// uniqueErrors implements the unique-stmt algorithm of spec.md §4.5:
// build the tuple of selected values for every entry with all
// components present (entries missing any component are skipped, not
// errors), then pairwise compare.
func (c *Checker) uniqueErrors(obj *schema.SchemaObject, entries []*datastore.Value) []*mgmterror.Error {
	var out []*mgmterror.Error
	for _, u := range obj.Unique {
		type tupleEntry struct {
			entry *datastore.Value
			tuple string
		}
		var tuples []tupleEntry
		for _, entry := range entries {
			parts := make([]string, 0, len(u.Paths))
			complete := true
			for _, rel := range u.Paths {
				res, err := c.Eval.Evaluate(xpath.Parse(rel),
					&xpath.Context{Node: entry, ConfigOnly: true}, dataRoot(entry), true)
				ns, ok := res.(*xpath.NodeSet)
				if err != nil || !ok || ns.Len() == 0 {
					complete = false
					break
				}
				parts = append(parts, ns.Value())
			}
			if !complete {
				continue
			}
			tuples = append(tuples, tupleEntry{entry: entry, tuple: strings.Join(parts, "\x00")})
		}
		for i := 0; i < len(tuples); i++ {
			for j := i + 1; j < len(tuples); j++ {
				if tuples[i].tuple != tuples[j].tuple {
					continue
				}
				e := mgmterror.NewUniqueTestFailedError(
					tuples[i].entry.Path(), tuples[j].entry.Path())
				tuples[i].entry.Res = e
				tuples[j].entry.Res = e
				out = append(out, e)
			}
		}
	}
	return out
}

// xpathTypeError resolves a leafref or constrained instance-identifier
// leaf (spec.md §4.5 XPATH_TYPE).
func (c *Checker) xpathTypeError(obj *schema.SchemaObject, inst *datastore.Value) *mgmterror.Error {
	if !obj.Type.RequireInstance {
		return nil
	}
	switch obj.Type.Kind {
	case schema.LeafrefType:
		res, err := c.Eval.Evaluate(xpath.Parse(obj.Type.LeafrefPath),
			&xpath.Context{Node: inst, ConfigOnly: true}, dataRoot(inst), true)
		if err != nil {
			return mgmterror.NewOperationFailedError(err.Error()).WithPath(inst.Path())
		}
		ns, ok := res.(*xpath.NodeSet)
		if !ok {
			return mgmterror.NewXPathNotNodesetError(obj.Type.LeafrefPath)
		}
		want := inst.ScalarValue()
		for _, n := range ns.All() {
			if n.NodeValue() == want {
				return nil
			}
		}
		e := mgmterror.NewMissingValInstError(inst.Path())
		inst.Res = e
		return e

	case schema.InstanceIdentifierType:
		res, err := c.Eval.Evaluate(xpath.Parse(inst.ScalarValue()),
			&xpath.Context{Node: dataRoot(inst), ConfigOnly: true}, dataRoot(inst), true)
		if err != nil {
			return mgmterror.NewOperationFailedError(err.Error()).WithPath(inst.Path())
		}
		ns, ok := res.(*xpath.NodeSet)
		if !ok {
			return mgmterror.NewXPathNotNodesetError(inst.ScalarValue())
		}
		if ns.Len() == 0 {
			e := mgmterror.NewMissingValInstError(inst.Path())
			inst.Res = e
			return e
		}
	}
	return nil
}
