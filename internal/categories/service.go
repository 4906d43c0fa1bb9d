package categories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

// mapper is the slice of the mapping engine the category import consumes.
type mapper interface {
	GetOrCreateExternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, attrs mapping.ExternalAttrs) (*models.ExternalRecord, error)
	CreateOrUpdateMapping(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, binding mapping.Binding) (*models.Mapping, error)
	ToInternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, required bool) (*uuid.UUID, error)
}

// Service imports platform category trees.
type Service interface {
	// ImportBatch mirrors and maps every record, creating missing internal
	// categories. Parent links inside the batch are validated for cycles
	// before any write happens.
	ImportBatch(ctx context.Context, integration *models.Integration, records []platform.CategoryRecord) error
}

// ServiceParams collects the category import dependencies.
type ServiceParams struct {
	Repo    Repository
	Mapping mapper
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	mapping mapper
	logger  *logger.Logger
}

// NewService builds the category import service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("categories repository required")
	}
	if params.Mapping == nil {
		return nil, fmt.Errorf("mapping service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		mapping: params.Mapping,
		logger:  params.Logger,
	}, nil
}

func (s *service) ImportBatch(ctx context.Context, integration *models.Integration, records []platform.CategoryRecord) error {
	if integration == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "integration required")
	}
	if len(records) == 0 {
		return nil
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"integration_id": integration.ID.String(),
		"batch_size":     len(records),
	})

	if cycle := findParentCycle(records); cycle != nil {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("category batch contains a parent-link cycle: %s", strings.Join(cycle, " -> ")))
	}

	for _, record := range parentsFirst(records) {
		if err := s.importOne(ctx, integration, record); err != nil {
			return err
		}
	}
	s.logger.Info(ctx, "category batch imported")
	return nil
}

func (s *service) importOne(ctx context.Context, integration *models.Integration, record platform.CategoryRecord) error {
	if record.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "category record without id")
	}

	if _, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityCategory, record.ID, mapping.ExternalAttrs{
		Name: record.Name,
	}); err != nil {
		return err
	}

	var parentID *uuid.UUID
	if record.ParentID != "" {
		id, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityCategory, record.ParentID, false)
		if err != nil {
			return err
		}
		parentID = id
	}

	internalID, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityCategory, record.ID, false)
	if err != nil {
		return err
	}

	if internalID == nil {
		category := &models.Category{ID: uuid.New(), Name: record.Name, ParentID: parentID}
		if err := s.repo.Create(ctx, category); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create category")
		}
		if _, err := s.mapping.CreateOrUpdateMapping(ctx, integration.ID, enums.EntityCategory, record.ID, mapping.BindTo(category.ID)); err != nil {
			return err
		}
		return nil
	}

	if err := s.repo.Rename(ctx, *internalID, record.Name); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rename category")
	}
	if err := s.repo.SetParent(ctx, *internalID, parentID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reparent category")
	}
	return nil
}

// findParentCycle walks the batch-local adjacency map and returns the first
// cycle found as a name path, or nil. Parents outside the batch terminate a
// walk.
func findParentCycle(records []platform.CategoryRecord) []string {
	parents := make(map[string]string, len(records))
	names := make(map[string]string, len(records))
	for _, record := range records {
		parents[record.ID] = record.ParentID
		names[record.ID] = record.Name
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := map[string]int{}

	for _, record := range records {
		if state[record.ID] != unvisited {
			continue
		}
		var stack []string
		node := record.ID
		for node != "" {
			if _, inBatch := parents[node]; !inBatch {
				break
			}
			if state[node] == done {
				break
			}
			if state[node] == inStack {
				// close the loop for the reported path
				start := 0
				for i, id := range stack {
					if id == node {
						start = i
						break
					}
				}
				path := make([]string, 0, len(stack)-start+1)
				for _, id := range stack[start:] {
					path = append(path, displayName(names, id))
				}
				return append(path, displayName(names, node))
			}
			state[node] = inStack
			stack = append(stack, node)
			node = parents[node]
		}
		for _, id := range stack {
			state[id] = done
		}
	}
	return nil
}

func displayName(names map[string]string, id string) string {
	if name := names[id]; name != "" {
		return name
	}
	return id
}

// parentsFirst orders the batch so every in-batch parent precedes its
// children. The batch is cycle-free when this runs.
func parentsFirst(records []platform.CategoryRecord) []platform.CategoryRecord {
	byID := make(map[string]platform.CategoryRecord, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}

	ordered := make([]platform.CategoryRecord, 0, len(records))
	placed := map[string]bool{}

	var place func(record platform.CategoryRecord)
	place = func(record platform.CategoryRecord) {
		if placed[record.ID] {
			return
		}
		placed[record.ID] = true
		if parent, ok := byID[record.ParentID]; ok {
			place(parent)
		}
		ordered = append(ordered, record)
	}
	for _, record := range records {
		place(record)
	}
	return ordered
}
