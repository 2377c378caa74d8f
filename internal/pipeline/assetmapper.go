package pipeline

import (
	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
)

// SHDR asset record markers.
const (
	assetToken          = "@ASSET@"
	removeAssetToken    = "@REMOVE_ASSET@"
	removeAllAssetToken = "@REMOVE_ALL_ASSETS@"
)

// isAssetRecord reports whether a token record is an asset admission or
// removal.
func isAssetRecord(t *Tokens) bool {
	if len(t.Tokens) == 0 {
		return false
	}
	switch t.Tokens[0] {
	case assetToken, removeAssetToken, removeAllAssetToken:
		return true
	}
	return false
}

// AssetMapper turns SHDR asset records into asset entities and removal
// commands:
//
//	@ASSET@|<id>|<type>|<xmlPayload>     admission
//	@REMOVE_ASSET@|<id>                  removal
//	@REMOVE_ALL_ASSETS@|<type?>          bulk removal
type AssetMapper struct {
	factories *asset.FactorySet
	logger    Logger
}

// NewAssetMapper creates an asset mapper over the registered factories.
func NewAssetMapper(factories *asset.FactorySet, logger Logger) *AssetMapper {
	if logger == nil {
		logger = noopLogger{}
	}
	return &AssetMapper{factories: factories, logger: logger}
}

// Name implements Transform.
func (*AssetMapper) Name() string { return "AssetMapper" }

// Guard implements Transform.
func (*AssetMapper) Guard(e Entity) bool {
	t, ok := e.(*Tokens)
	return ok && !t.Timestamp.IsZero() && isAssetRecord(t)
}

// Apply implements Transform.
func (m *AssetMapper) Apply(e Entity, next NextFunc) (Entity, error) {
	t := e.(*Tokens)

	switch t.Tokens[0] {
	case assetToken:
		return m.mapAsset(t, next)

	case removeAssetToken:
		if len(t.Tokens) < 2 || t.Tokens[1] == "" {
			m.logger.Warn("remove asset record without an id", "source", t.Source)
			return nil, nil
		}
		cmd := &AssetCommand{
			Command: AssetCommandRemove,
			AssetID: t.Tokens[1],
			Device:  t.Device,
		}
		if err := next(cmd); err != nil {
			return nil, err
		}
		return cmd, nil

	case removeAllAssetToken:
		cmd := &AssetCommand{
			Command: AssetCommandRemoveAll,
			Device:  t.Device,
		}
		if len(t.Tokens) > 1 {
			cmd.Type = t.Tokens[1]
		}
		if err := next(cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	}

	return nil, nil
}

// mapAsset parses an @ASSET@ record's XML payload through the registered
// factories.
func (m *AssetMapper) mapAsset(t *Tokens, next NextFunc) (Entity, error) {
	if len(t.Tokens) < 4 {
		m.logger.Warn("asset record too short", "tokens", len(t.Tokens), "source", t.Source)
		return nil, nil
	}
	id, typ, payload := t.Tokens[1], t.Tokens[2], t.Tokens[3]

	a, err := m.factories.Parse(payload)
	if err != nil {
		m.logger.Warn("cannot parse asset payload", "id", id, "type", typ, "error", err)
		return nil, nil
	}

	// The record's own id and device win over payload attributes.
	if id != "" {
		a.AssetID = id
	}
	if a.AssetID == "" {
		m.logger.Warn("asset record without an id", "type", typ, "source", t.Source)
		return nil, nil
	}
	if a.DeviceUUID == "" {
		a.DeviceUUID = t.Device
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = t.Timestamp
	}

	entity := &AssetEntity{Asset: a}
	if err := next(entity); err != nil {
		return nil, err
	}
	return entity, nil
}
