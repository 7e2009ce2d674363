// Package seeder loads demo roles, role holders and subjects into the
// in-memory stores so a fresh server has someone to route approvals to.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
)

// RoleWriter is the writable side of the in-memory directory.
type RoleWriter interface {
	AddRole(role id.RoleID, name string)
	Assign(user id.UserID, roles ...id.RoleID)
}

// SubjectWriter stores subjects.
type SubjectWriter interface {
	Save(ctx context.Context, e *subject.Entity) error
}

// Document is the YAML seed format.
//
//	roles:
//	  - id: manager
//	    name: manager
//	users:
//	  - id: 11111111-1111-1111-1111-111111111111
//	    roles: [manager]
//	subjects:
//	  - id: 5b0c...
//	    kind: machine
//	    name: press-7
type Document struct {
	Roles []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"roles"`
	Users []struct {
		ID    string   `yaml:"id"`
		Roles []string `yaml:"roles"`
	} `yaml:"users"`
	Subjects []struct {
		ID         string         `yaml:"id"`
		Kind       string         `yaml:"kind"`
		ParentID   string         `yaml:"parent_id"`
		Name       string         `yaml:"name"`
		Attributes map[string]any `yaml:"attributes"`
	} `yaml:"subjects"`
}

type Seeder struct {
	roles    RoleWriter
	subjects SubjectWriter
	logger   *slog.Logger
}

func New(roles RoleWriter, subjects SubjectWriter, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{roles: roles, subjects: subjects, logger: logger}
}

// SeedFile reads path and seeds it.
func (s *Seeder) SeedFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return s.SeedYAML(ctx, raw)
}

// SeedYAML validates the whole document before writing anything.
func (s *Seeder) SeedYAML(ctx context.Context, raw []byte) error {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	type grant struct {
		user  id.UserID
		roles []id.RoleID
	}
	grants := make([]grant, 0, len(doc.Users))
	for i, u := range doc.Users {
		userID, err := id.ParseUserID(u.ID)
		if err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
		g := grant{user: userID}
		for _, raw := range u.Roles {
			role, err := id.ParseRoleID(raw)
			if err != nil {
				return fmt.Errorf("users[%d]: %w", i, err)
			}
			g.roles = append(g.roles, role)
		}
		grants = append(grants, g)
	}

	entities := make([]*subject.Entity, 0, len(doc.Subjects))
	for i, sd := range doc.Subjects {
		subjectID, err := id.ParseSubjectID(sd.ID)
		if err != nil {
			return fmt.Errorf("subjects[%d]: %w", i, err)
		}
		e := &subject.Entity{ID: subjectID, Kind: subject.Kind(sd.Kind), Name: sd.Name, Attributes: sd.Attributes}
		if !e.Kind.IsValid() {
			return fmt.Errorf("subjects[%d]: unknown kind %q", i, sd.Kind)
		}
		if sd.ParentID != "" {
			parent, err := id.ParseSubjectID(sd.ParentID)
			if err != nil {
				return fmt.Errorf("subjects[%d]: parent: %w", i, err)
			}
			e.ParentID = &parent
		}
		if e.Kind == subject.KindQCEntry && e.ParentID == nil {
			return fmt.Errorf("subjects[%d]: qc_entry requires parent_id", i)
		}
		entities = append(entities, e)
	}

	for _, r := range doc.Roles {
		name := r.Name
		if name == "" {
			name = r.ID
		}
		s.roles.AddRole(id.RoleID(r.ID), name)
	}
	for _, g := range grants {
		s.roles.Assign(g.user, g.roles...)
	}
	for _, e := range entities {
		if err := s.subjects.Save(ctx, e); err != nil {
			return fmt.Errorf("save subject %s: %w", e.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "seeded demo data",
		"roles", len(doc.Roles),
		"users", len(grants),
		"subjects", len(entities),
	)
	return nil
}
