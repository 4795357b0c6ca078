package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/mapping"
)

// ErrPresetNameTaken is returned when a resource type already has a preset
// with the same name.
var ErrPresetNameTaken = errors.New("a saved mapping with this name already exists")

const insertPreset = `
INSERT INTO mapping_presets (id, resource_type, name, mapping, headers)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, resource_type, name, mapping, headers, created_at, updated_at`

const getPreset = `
SELECT id, resource_type, name, mapping, headers, created_at, updated_at
FROM mapping_presets
WHERE id = $1`

const listPresets = `
SELECT id, resource_type, name, mapping, headers, created_at, updated_at
FROM mapping_presets
WHERE resource_type = $1
ORDER BY name`

const deletePreset = `DELETE FROM mapping_presets WHERE id = $1`

// CreatePreset saves a mapping. The ID must be set by the caller.
func (s *Store) CreatePreset(ctx context.Context, p mapping.Preset) (mapping.Preset, error) {
	if strings.TrimSpace(p.Name) == "" {
		return mapping.Preset{}, fmt.Errorf("create preset: name is required")
	}
	id, err := toUUID(p.ID)
	if err != nil {
		return mapping.Preset{}, fmt.Errorf("create preset: %w", err)
	}

	mappingJSON, err := json.Marshal(p.Mapping)
	if err != nil {
		return mapping.Preset{}, fmt.Errorf("marshal mapping: %w", err)
	}
	headersJSON, err := json.Marshal(p.Headers)
	if err != nil {
		return mapping.Preset{}, fmt.Errorf("marshal headers: %w", err)
	}

	row := s.db.QueryRow(ctx, insertPreset, id, p.ResourceType, strings.TrimSpace(p.Name), mappingJSON, headersJSON)
	saved, err := scanPreset(row)
	if err != nil {
		if strings.Contains(err.Error(), "mapping_presets_type_name_unique") {
			return mapping.Preset{}, fmt.Errorf("%w: %q", ErrPresetNameTaken, p.Name)
		}
		return mapping.Preset{}, fmt.Errorf("create preset: %w", err)
	}
	return saved, nil
}

// GetPreset loads a preset by ID.
func (s *Store) GetPreset(ctx context.Context, id string) (mapping.Preset, error) {
	uid, err := toUUID(id)
	if err != nil {
		return mapping.Preset{}, fmt.Errorf("%w: %s", core.ErrPresetNotFound, id)
	}

	p, err := scanPreset(s.db.QueryRow(ctx, getPreset, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return mapping.Preset{}, fmt.Errorf("%w: %s", core.ErrPresetNotFound, id)
	}
	if err != nil {
		return mapping.Preset{}, fmt.Errorf("get preset: %w", err)
	}
	return p, nil
}

// ListPresets returns all presets for a resource type, by name.
func (s *Store) ListPresets(ctx context.Context, resourceType string) ([]mapping.Preset, error) {
	rows, err := s.db.Query(ctx, listPresets, resourceType)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	presets := []mapping.Preset{}
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, fmt.Errorf("list presets: %w", err)
		}
		presets = append(presets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	return presets, nil
}

// DeletePreset removes a preset.
func (s *Store) DeletePreset(ctx context.Context, id string) error {
	uid, err := toUUID(id)
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrPresetNotFound, id)
	}

	tag, err := s.db.Exec(ctx, deletePreset, uid)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", core.ErrPresetNotFound, id)
	}
	return nil
}

func scanPreset(row pgx.Row) (mapping.Preset, error) {
	var (
		p           mapping.Preset
		id          pgtype.UUID
		mappingJSON []byte
		headersJSON []byte
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&id, &p.ResourceType, &p.Name, &mappingJSON, &headersJSON, &createdAt, &updatedAt); err != nil {
		return mapping.Preset{}, err
	}
	return decodePreset(p, id, mappingJSON, headersJSON, createdAt, updatedAt)
}

func decodePreset(p mapping.Preset, id pgtype.UUID, mappingJSON, headersJSON []byte, createdAt, updatedAt pgtype.Timestamptz) (mapping.Preset, error) {
	p.ID = fromUUID(id)
	if err := json.Unmarshal(mappingJSON, &p.Mapping); err != nil {
		return mapping.Preset{}, fmt.Errorf("unmarshal mapping: %w", err)
	}
	if err := json.Unmarshal(headersJSON, &p.Headers); err != nil {
		return mapping.Preset{}, fmt.Errorf("unmarshal headers: %w", err)
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return p, nil
}
