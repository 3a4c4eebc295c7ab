package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/jward/injectpoint/internal/bytecode"
)

// CommitResult reports what a commit changed.
type CommitResult struct {
	Changed   []string
	Unchanged int
	Stamp     int64
}

// CommitBatch writes all buffered classes into SQLite within a single
// transaction. Classes whose content hash matches the stored row are
// skipped. If any class changed the modification stamp advances by one,
// persisted in the same transaction.
//
// Per changed class, write order respects FK dependencies:
//  1. Class row (old row deleted, cascading to its methods)
//  2. Methods
//  3. Instructions and local variables (depend on method_id)
func (s *Store) CommitBatch(batch *Batch) (CommitResult, error) {
	classes := batch.Classes()
	var res CommitResult
	if len(classes) == 0 {
		res.Stamp = s.Stamp()
		return res, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return res, fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = c.Name
	}
	existing, err := hashesTx(tx, names)
	if err != nil {
		return res, fmt.Errorf("commit batch: %w", err)
	}

	for _, cls := range classes {
		hash := ComputeClassHash(cls)
		if existing[cls.Name] == hash {
			res.Unchanged++
			continue
		}
		if err := writeClassTx(tx, cls, hash); err != nil {
			return res, fmt.Errorf("commit batch: class %q: %w", cls.Name, err)
		}
		res.Changed = append(res.Changed, cls.Name)
	}

	stamp, err := readStamp(tx)
	if err != nil {
		return res, fmt.Errorf("commit batch: %w", err)
	}
	if len(res.Changed) > 0 {
		stamp++
		if _, err := tx.Exec(
			"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			stampKey, strconv.FormatInt(stamp, 10),
		); err != nil {
			return res, fmt.Errorf("commit batch: write stamp: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit batch: commit: %w", err)
	}

	s.forget(res.Changed...)
	s.stamp.Store(stamp)
	res.Stamp = stamp
	return res, nil
}

// PutClass stores a single class. It returns true when the stored content
// changed.
func (s *Store) PutClass(cls *bytecode.ClassNode) (bool, error) {
	b := NewBatch()
	b.Add(cls)
	res, err := s.CommitBatch(b)
	if err != nil {
		return false, err
	}
	return len(res.Changed) > 0, nil
}

func hashesTx(tx *sql.Tx, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	// SQLite's default variable limit is 999 per statement.
	const chunk = 500
	for start := 0; start < len(names); start += chunk {
		part := names[start:min(start+chunk, len(names))]
		rows, err := tx.Query(
			"SELECT name, hash FROM classes WHERE name IN ("+placeholderList(len(part))+")",
			stringsToArgs(part)...,
		)
		if err != nil {
			return nil, fmt.Errorf("query hashes: %w", err)
		}
		for rows.Next() {
			var name, hash string
			if err := rows.Scan(&name, &hash); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan hash: %w", err)
			}
			out[name] = hash
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeClassTx(tx *sql.Tx, cls *bytecode.ClassNode, hash string) error {
	if _, err := tx.Exec("DELETE FROM classes WHERE name = ?", cls.Name); err != nil {
		return fmt.Errorf("delete old class: %w", err)
	}
	r, err := tx.Exec(
		`INSERT INTO classes (name, access, super_name, interfaces, source_file, hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cls.Name, cls.Access, cls.SuperName, marshalStrings(cls.Interfaces), cls.SourceFile, hash,
	)
	if err != nil {
		return fmt.Errorf("insert class: %w", err)
	}
	classID, err := r.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	insnStmt, err := tx.Prepare(
		`INSERT INTO insns (method_id, ordinal, op, owner, name, descriptor, itf, type, var,
			int_operand, const_kind, const_value, label, line)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insn insert: %w", err)
	}
	defer insnStmt.Close()

	for i, m := range cls.Methods {
		r, err := tx.Exec(
			"INSERT INTO methods (class_id, ordinal, name, descriptor, access) VALUES (?, ?, ?, ?, ?)",
			classID, i, m.Name, m.Desc, m.Access,
		)
		if err != nil {
			return fmt.Errorf("insert method %s%s: %w", m.Name, m.Desc, err)
		}
		methodID, err := r.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		for j, insn := range m.Insns {
			var constKind, constValue string
			if insn.Const != nil {
				constKind, constValue = string(insn.Const.Kind), insn.Const.Value
			}
			if _, err := insnStmt.Exec(
				methodID, j, int(insn.Op), insn.Owner, insn.Name, insn.Desc, insn.Itf, insn.Type,
				insn.Var, insn.IntOperand, constKind, constValue, insn.Label, insn.Line,
			); err != nil {
				return fmt.Errorf("insert insn %d of %s%s: %w", j, m.Name, m.Desc, err)
			}
		}
		for _, lv := range m.LocalVariables {
			if _, err := tx.Exec(
				"INSERT INTO local_variables (method_id, slot, name, descriptor) VALUES (?, ?, ?, ?)",
				methodID, lv.Index, lv.Name, lv.Desc,
			); err != nil {
				return fmt.Errorf("insert local %s: %w", lv.Name, err)
			}
		}
	}
	return nil
}
