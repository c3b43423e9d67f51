package pgstore

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

const notifyChannel = "peddy_nodes"

// Node is one stored leaf.
type Node struct {
	Path      string    `gorm:"primaryKey"`
	Value     string    `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Node) TableName() string { return "peddy_nodes" }

const notifyTrigger = `
CREATE OR REPLACE FUNCTION peddy_nodes_notify() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('` + notifyChannel + `', OLD.path);
	ELSE
		PERFORM pg_notify('` + notifyChannel + `', NEW.path);
	END IF;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS peddy_nodes_notify ON peddy_nodes;
CREATE TRIGGER peddy_nodes_notify
	AFTER INSERT OR UPDATE OR DELETE ON peddy_nodes
	FOR EACH ROW EXECUTE FUNCTION peddy_nodes_notify();
`

// Migrate creates the node table and the change trigger.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Node{}); err != nil {
		return fmt.Errorf("migrate nodes: %w", err)
	}
	if err := db.Exec(notifyTrigger).Error; err != nil {
		return fmt.Errorf("install notify trigger: %w", err)
	}
	return nil
}
