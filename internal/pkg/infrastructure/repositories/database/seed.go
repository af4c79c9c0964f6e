package database

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/diwise/facility-mgmt/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Seed reads semicolon separated asset records and stores them, creating the
// backing tree or equipment together with its asset. Existing codes are updated.
//
//	kind;code;name;type;status;lat;lon;room
//	tree;T-001;Dipterocarpus alatus;;dangerous;10.7626;106.6602;
//	equipment;EQ-001;Projector;projector;broken;10.7627;106.6603;A101
func Seed(ctx context.Context, repo FacilityRepository, reader io.Reader) error {
	r := csv.NewReader(reader)
	r.Comma = ';'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read csv data: %w", err)
	}

	records, err := getRecordsFromRows(rows)
	if err != nil {
		return err
	}

	db := repo.DB().WithContext(ctx)

	return db.Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			if err := rec.store(tx); err != nil {
				return fmt.Errorf("failed to seed %s %s: %w", rec.kind, rec.code, err)
			}
		}
		return nil
	})
}

type assetRecord struct {
	kind     string
	code     string
	name     string
	category string
	status   string
	location *types.Location
	room     string
}

func getRecordsFromRows(rows [][]string) ([]assetRecord, error) {
	records := []assetRecord{}
	codes := map[string]bool{}

	for idx, row := range rows {
		if idx == 0 {
			// Skip the CSV header
			continue
		}

		if len(row) < 7 {
			return nil, fmt.Errorf("too few fields on line %d", idx+1)
		}

		rec := assetRecord{
			kind:     strings.ToLower(strings.TrimSpace(row[0])),
			code:     strings.TrimSpace(row[1]),
			name:     strings.TrimSpace(row[2]),
			category: strings.TrimSpace(row[3]),
			status:   strings.ToLower(strings.TrimSpace(row[4])),
		}

		if len(row) > 7 {
			rec.room = strings.TrimSpace(row[7])
		}

		if rec.kind != types.AssetTree && rec.kind != types.AssetEquipment {
			return nil, fmt.Errorf("unknown asset kind %q on line %d", rec.kind, idx+1)
		}

		if rec.code == "" {
			return nil, fmt.Errorf("missing code on line %d", idx+1)
		}

		key := rec.kind + "/" + rec.code
		if codes[key] {
			return nil, fmt.Errorf("duplicate %s code %s found on line %d", rec.kind, rec.code, idx+1)
		}
		codes[key] = true

		if row[5] != "" || row[6] != "" {
			l, err := types.ParseLocation(row[5], row[6])
			if err != nil {
				return nil, fmt.Errorf("bad location on line %d: %w", idx+1, err)
			}
			rec.location = &l
		}

		if err := rec.validateStatus(); err != nil {
			return nil, fmt.Errorf("%w on line %d", err, idx+1)
		}

		records = append(records, rec)
	}

	return records, nil
}

func (rec *assetRecord) validateStatus() error {
	allowed := map[string][]string{
		types.AssetTree:      {types.TreeGood, types.TreeDiseased, types.TreeDangerous},
		types.AssetEquipment: {types.EquipmentGood, types.EquipmentBroken, types.EquipmentMaintenance},
	}

	if rec.status == "" {
		rec.status = allowed[rec.kind][0]
		return nil
	}

	for _, s := range allowed[rec.kind] {
		if s == rec.status {
			return nil
		}
	}

	return fmt.Errorf("invalid %s status %q", rec.kind, rec.status)
}

func (rec assetRecord) store(tx *gorm.DB) error {
	asset := Asset{AssetType: rec.kind}

	if rec.kind == types.AssetTree {
		tree := Tree{}
		err := tx.Where("code = ?", rec.code).First(&tree).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		tree.Code = rec.code
		tree.Species = rec.name
		tree.HealthStatus = rec.status
		tree.SetLocation(rec.location)

		if err := tx.Save(&tree).Error; err != nil {
			return err
		}

		asset.TreeID = &tree.ID
	} else {
		equipment := Equipment{}
		err := tx.Where("code = ?", rec.code).First(&equipment).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		equipment.Code = rec.code
		equipment.Name = rec.name
		equipment.EquipmentType = rec.category
		equipment.Status = rec.status
		equipment.SetLocation(rec.location)

		if rec.room != "" {
			room := Room{}
			err := tx.Where("name = ?", rec.room).First(&room).Error
			if err != nil {
				return fmt.Errorf("room %q: %w", rec.room, err)
			}
			equipment.RoomID = &room.ID
		}

		if err := tx.Omit(clause.Associations).Save(&equipment).Error; err != nil {
			return err
		}

		asset.EquipmentID = &equipment.ID
	}

	existing := Asset{}
	err := tx.Where(&asset).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return tx.Create(&asset).Error
}
