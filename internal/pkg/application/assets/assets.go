// Package assets resolves the polymorphic Asset record into the equipment or
// tree it stands for.
package assets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/facility-mgmt/pkg/types"
)

var ErrInvalidAsset = errors.New("invalid asset")

type Kind string

const (
	KindEquipment Kind = Kind(types.AssetEquipment)
	KindTree      Kind = Kind(types.AssetTree)
)

// Validate checks that exactly one of equipment and tree is referenced and
// that the asset type agrees with it.
func Validate(a database.Asset) error {
	hasEquipment := a.EquipmentID != nil || a.Equipment != nil
	hasTree := a.TreeID != nil || a.Tree != nil

	switch {
	case hasEquipment && hasTree:
		return fmt.Errorf("%w: asset references both equipment and tree", ErrInvalidAsset)
	case !hasEquipment && !hasTree:
		return fmt.Errorf("%w: asset references neither equipment nor tree", ErrInvalidAsset)
	case hasEquipment && a.AssetType != types.AssetEquipment:
		return fmt.Errorf("%w: asset type %q does not match equipment reference", ErrInvalidAsset, a.AssetType)
	case hasTree && a.AssetType != types.AssetTree:
		return fmt.Errorf("%w: asset type %q does not match tree reference", ErrInvalidAsset, a.AssetType)
	}

	return nil
}

// Resolve returns the kind of the asset together with the referenced record.
// Exactly one of the returned pointers is set on success.
func Resolve(a database.Asset) (Kind, *database.Equipment, *database.Tree, error) {
	if err := Validate(a); err != nil {
		return "", nil, nil, err
	}

	if a.AssetType == types.AssetEquipment {
		if a.Equipment == nil {
			return "", nil, nil, fmt.Errorf("%w: equipment %d not loaded", ErrInvalidAsset, *a.EquipmentID)
		}
		return KindEquipment, a.Equipment, nil, nil
	}

	if a.Tree == nil {
		return "", nil, nil, fmt.Errorf("%w: tree %d not loaded", ErrInvalidAsset, *a.TreeID)
	}
	return KindTree, nil, a.Tree, nil
}

func Label(a database.Asset) string {
	kind, eq, tree, err := Resolve(a)
	if err != nil {
		return "Asset"
	}

	if kind == KindEquipment {
		return labelWithSuffix("Equipment", eq.Code, eq.Name)
	}
	return labelWithSuffix("Tree", tree.Code, tree.Species)
}

func labelWithSuffix(prefix, code, suffix string) string {
	label := prefix + " " + code
	if strings.TrimSpace(suffix) != "" {
		label += " - " + suffix
	}
	return label
}

// Location returns the geometry of the underlying equipment or tree, or nil.
func Location(a database.Asset) *types.Location {
	kind, eq, tree, err := Resolve(a)
	if err != nil {
		return nil
	}

	if kind == KindEquipment {
		return eq.Location()
	}
	return tree.Location()
}

// SearchText concatenates the identifying texts of the underlying record.
func SearchText(a database.Asset) string {
	kind, eq, tree, err := Resolve(a)
	if err != nil {
		return ""
	}

	var parts []string
	if kind == KindEquipment {
		parts = []string{eq.Name, eq.Code, eq.EquipmentType}
	} else {
		parts = []string{tree.Species, tree.Code}
	}

	nonEmpty := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}

	return strings.Join(nonEmpty, " ")
}
