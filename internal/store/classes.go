package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Compile-time check: *Store satisfies bytecode.ClassLookup.
var _ bytecode.ClassLookup = (*Store)(nil)

type loadedClass struct {
	cls  *bytecode.ClassNode
	hash string
}

// Class loads a class by internal or dotted name. It returns (nil, nil)
// when the class is not indexed. Loaded classes are memoized until a commit
// changes them, so repeated lookups return the same *ClassNode.
func (s *Store) Class(name string) (*bytecode.ClassNode, error) {
	name = bytecode.InternalName(name)

	s.mu.RLock()
	lc, ok := s.loaded[name]
	s.mu.RUnlock()
	if ok {
		return lc.cls, nil
	}

	stamp := s.Stamp()
	cls, hash, err := s.loadClass(name)
	if err != nil || cls == nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Stamp() != stamp {
		// A commit raced the load; do not memoize what may be stale.
		return cls, nil
	}
	if lc, ok := s.loaded[name]; ok && lc.hash == hash {
		return lc.cls, nil
	}
	s.loaded[name] = &loadedClass{cls: cls, hash: hash}
	return cls, nil
}

// LookupClass implements bytecode.ClassLookup. Database errors read as
// "not found".
func (s *Store) LookupClass(name string) (*bytecode.ClassNode, bool) {
	cls, err := s.Class(name)
	return cls, err == nil && cls != nil
}

// LookupClassForSourceType implements bytecode.ClassLookup.
func (s *Store) LookupClassForSourceType(ref bytecode.SourceTypeRef) (*bytecode.ClassNode, bool) {
	return bytecode.LookupSourceType(s.LookupClass, ref)
}

// ClassNames returns every indexed class name in sorted order.
func (s *Store) ClassNames() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM classes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("class names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan class name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ClassHash returns the stored content hash, or "" when not indexed.
func (s *Store) ClassHash(name string) (string, error) {
	var hash string
	err := s.db.QueryRow("SELECT hash FROM classes WHERE name = ?", bytecode.InternalName(name)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("class hash: %w", err)
	}
	return hash, nil
}

// DeleteClass removes a class and advances the stamp if it existed.
func (s *Store) DeleteClass(name string) (bool, error) {
	name = bytecode.InternalName(name)
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("delete class: begin: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.Exec("DELETE FROM classes WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("delete class: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	stamp, err := readStamp(tx)
	if err != nil {
		return false, fmt.Errorf("delete class: %w", err)
	}
	stamp++
	if _, err := tx.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		stampKey, strconv.FormatInt(stamp, 10),
	); err != nil {
		return false, fmt.Errorf("delete class: write stamp: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete class: commit: %w", err)
	}
	s.forget(name)
	s.stamp.Store(stamp)
	return true, nil
}

// forget drops memoized classes.
func (s *Store) forget(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		delete(s.loaded, n)
	}
}

func (s *Store) loadClass(name string) (*bytecode.ClassNode, string, error) {
	var (
		classID int64
		ifaces  string
		hash    string
	)
	cls := &bytecode.ClassNode{Name: name}
	err := s.db.QueryRow(
		"SELECT id, access, super_name, interfaces, source_file, hash FROM classes WHERE name = ?", name,
	).Scan(&classID, &cls.Access, &cls.SuperName, &ifaces, &cls.SourceFile, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load class %s: %w", name, err)
	}
	cls.Interfaces = unmarshalStrings(ifaces)

	methods, err := s.loadMethods(classID)
	if err != nil {
		return nil, "", fmt.Errorf("load class %s: %w", name, err)
	}
	cls.Methods = methods
	return cls, hash, nil
}

func (s *Store) loadMethods(classID int64) ([]*bytecode.MethodNode, error) {
	rows, err := s.db.Query(
		"SELECT id, name, descriptor, access FROM methods WHERE class_id = ? ORDER BY ordinal", classID,
	)
	if err != nil {
		return nil, fmt.Errorf("query methods: %w", err)
	}
	var (
		methods []*bytecode.MethodNode
		byID    = make(map[int64]*bytecode.MethodNode)
	)
	err = eachRow(rows, func(r rowIter) error {
		var id int64
		m := &bytecode.MethodNode{}
		if err := r.Scan(&id, &m.Name, &m.Desc, &m.Access); err != nil {
			return err
		}
		methods = append(methods, m)
		byID[id] = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan methods: %w", err)
	}

	rows, err = s.db.Query(
		`SELECT i.method_id, i.op, i.owner, i.name, i.descriptor, i.itf, i.type, i.var,
			i.int_operand, i.const_kind, i.const_value, i.label, i.line
		 FROM insns i JOIN methods m ON m.id = i.method_id
		 WHERE m.class_id = ? ORDER BY i.method_id, i.ordinal`, classID,
	)
	if err != nil {
		return nil, fmt.Errorf("query insns: %w", err)
	}
	err = eachRow(rows, func(r rowIter) error {
		var (
			methodID              int64
			op                    int
			constKind, constValue string
		)
		insn := &bytecode.Insn{}
		if err := r.Scan(&methodID, &op, &insn.Owner, &insn.Name, &insn.Desc, &insn.Itf,
			&insn.Type, &insn.Var, &insn.IntOperand, &constKind, &constValue, &insn.Label, &insn.Line); err != nil {
			return err
		}
		insn.Op = bytecode.Opcode(op)
		if constKind != "" {
			insn.Const = &bytecode.Constant{Kind: bytecode.ConstKind(constKind), Value: constValue}
		}
		if m := byID[methodID]; m != nil {
			m.Insns = append(m.Insns, insn)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan insns: %w", err)
	}

	rows, err = s.db.Query(
		`SELECT l.method_id, l.slot, l.name, l.descriptor
		 FROM local_variables l JOIN methods m ON m.id = l.method_id
		 WHERE m.class_id = ? ORDER BY l.method_id, l.slot`, classID,
	)
	if err != nil {
		return nil, fmt.Errorf("query locals: %w", err)
	}
	err = eachRow(rows, func(r rowIter) error {
		var methodID int64
		var lv bytecode.LocalVariable
		if err := r.Scan(&methodID, &lv.Index, &lv.Name, &lv.Desc); err != nil {
			return err
		}
		if m := byID[methodID]; m != nil {
			m.LocalVariables = append(m.LocalVariables, lv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan locals: %w", err)
	}

	for _, m := range methods {
		m.Renumber()
	}
	return methods, nil
}
