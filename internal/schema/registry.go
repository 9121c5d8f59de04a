// Package schema owns the declared-table allow-list: the set of tables and
// columns the service may query, and the textual schema document the LLM sees.
// Both derive from a single declaration file so that what the model sees and
// what the guard permits cannot drift apart.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

type ColumnSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Fraction    bool   `yaml:"fraction"` // values known to lie in [0,1]
}

type TableSpec struct {
	Name        string       `yaml:"name"` // fully qualified schema.table
	Description string       `yaml:"description"`
	Columns     []ColumnSpec `yaml:"columns"`
	PrimaryKey  []string     `yaml:"primary_key"`
}

type Declaration struct {
	Tables []TableSpec `yaml:"tables"`
}

// SchemaMismatchError is returned when a declared table or column is absent
// from the live database at startup.
type SchemaMismatchError struct {
	Table  string
	Column string // empty when the whole table is missing
}

func (e *SchemaMismatchError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema mismatch: declared table %s has no columns in information_schema", e.Table)
	}
	return fmt.Sprintf("schema mismatch: declared column %s.%s not found in information_schema", e.Table, e.Column)
}

// Registry is immutable after Load and safe for concurrent reads.
type Registry struct {
	specs        []TableSpec
	tables       map[string]struct{}
	colsByTable  map[string]map[string]struct{}
	fractionCols map[string]struct{}
	doc          string
}

func LoadDeclaration(path string) (*Declaration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table declaration: %w", err)
	}
	var decl Declaration
	if err := yaml.Unmarshal(raw, &decl); err != nil {
		return nil, fmt.Errorf("parse table declaration: %w", err)
	}
	if len(decl.Tables) == 0 {
		return nil, fmt.Errorf("table declaration %s lists no tables", path)
	}
	return &decl, nil
}

// New builds a registry from the declaration alone. Names are lower-cased on
// storage; the stored fully-qualified style is what the guard compares in.
func New(decl *Declaration) (*Registry, error) {
	r := &Registry{
		tables:       make(map[string]struct{}),
		colsByTable:  make(map[string]map[string]struct{}),
		fractionCols: make(map[string]struct{}),
	}
	for _, t := range decl.Tables {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" || !strings.Contains(name, ".") {
			return nil, fmt.Errorf("declared table %q is not fully qualified", t.Name)
		}
		if _, dup := r.tables[name]; dup {
			return nil, fmt.Errorf("declared table %s appears twice", name)
		}
		t.Name = name
		r.tables[name] = struct{}{}
		cols := make(map[string]struct{}, len(t.Columns))
		for i, c := range t.Columns {
			col := strings.ToLower(strings.TrimSpace(c.Name))
			t.Columns[i].Name = col
			cols[col] = struct{}{}
			if c.Fraction {
				r.fractionCols[col] = struct{}{}
			}
		}
		r.colsByTable[name] = cols
		r.specs = append(r.specs, t)
	}
	r.doc = renderDoc(r.specs)
	return r, nil
}

// Load builds the registry and verifies it against the live database.
func Load(ctx context.Context, decl *Declaration, db *sql.DB) (*Registry, error) {
	r, err := New(decl)
	if err != nil {
		return nil, err
	}
	if err := r.Verify(ctx, db); err != nil {
		return nil, err
	}
	return r, nil
}

// Verify consults information_schema.columns for exactly the declared tables.
// A declared table with zero live columns, or a declared column missing from
// the live set, fails startup. Tables declared without columns inherit the
// live column set instead.
func (r *Registry) Verify(ctx context.Context, db *sql.DB) error {
	for i, spec := range r.specs {
		schemaName, tableName, _ := strings.Cut(spec.Name, ".")
		rows, err := db.QueryContext(ctx,
			`SELECT lower(column_name) FROM information_schema.columns
			 WHERE table_schema = $1 AND table_name = $2`,
			schemaName, tableName)
		if err != nil {
			return fmt.Errorf("verify %s: %w", spec.Name, err)
		}
		live := make(map[string]struct{})
		for rows.Next() {
			var col string
			if err := rows.Scan(&col); err != nil {
				rows.Close()
				return fmt.Errorf("verify %s: %w", spec.Name, err)
			}
			live[col] = struct{}{}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("verify %s: %w", spec.Name, err)
		}
		if len(live) == 0 {
			return &SchemaMismatchError{Table: spec.Name}
		}
		if len(spec.Columns) == 0 {
			r.colsByTable[spec.Name] = live
			for col := range live {
				r.specs[i].Columns = append(r.specs[i].Columns, ColumnSpec{Name: col})
			}
			continue
		}
		for _, c := range spec.Columns {
			if _, ok := live[c.Name]; !ok {
				return &SchemaMismatchError{Table: spec.Name, Column: c.Name}
			}
		}
	}
	r.doc = renderDoc(r.specs)
	return nil
}

// TablesAllowed returns the set of fully-qualified lower-cased table names.
// The returned map is shared; callers must not mutate it.
func (r *Registry) TablesAllowed() map[string]struct{} {
	return r.tables
}

// ColumnsAllowed returns the column set for fqtn, nil when the table is not
// declared. An empty set means column-level checks are skipped for the table.
func (r *Registry) ColumnsAllowed(fqtn string) map[string]struct{} {
	return r.colsByTable[fqtn]
}

// ColumnsByTable returns the full table -> column-set mapping.
func (r *Registry) ColumnsByTable() map[string]map[string]struct{} {
	return r.colsByTable
}

// FractionColumns returns the names of declared columns bounded to [0,1].
func (r *Registry) FractionColumns() map[string]struct{} {
	return r.fractionCols
}

// Doc returns the schema document emitted to the LLM. The line format is
// stable so prompts are deterministic modulo declaration order.
func (r *Registry) Doc() string {
	return r.doc
}

func renderDoc(specs []TableSpec) string {
	var b strings.Builder
	for _, t := range specs {
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(" — ")
			b.WriteString(t.Description)
		}
		b.WriteString("\ncolumns:\n")
		for _, c := range t.Columns {
			b.WriteString("- ")
			b.WriteString(c.Name)
			if c.Description != "" {
				b.WriteString(": ")
				b.WriteString(c.Description)
			}
			b.WriteString("\n")
		}
		if len(t.PrimaryKey) > 0 {
			b.WriteString("primary_key: [")
			b.WriteString(strings.Join(t.PrimaryKey, ", "))
			b.WriteString("]\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
