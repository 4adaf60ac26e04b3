package workflow

import (
	"fmt"
	"sort"

	"gorm.io/gorm"
)

// AcquireProductPostingLocks serializes stock posting per product across
// instances using MySQL advisory locks. Locks are taken in ascending
// product id order so two orders over the same products can never
// deadlock on each other.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the
// same *gorm.DB that will do the posting transaction.
func AcquireProductPostingLocks(tx *gorm.DB, productIds []int) error {
	sorted := append([]int(nil), productIds...)
	sort.Ints(sorted)

	for _, productId := range sorted {
		lockName := fmt.Sprintf("product:%d", productId)
		var ok int
		if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
			return err
		}
		if ok != 1 {
			return fmt.Errorf("could not acquire posting lock for product_id=%d", productId)
		}
	}
	return nil
}

func ReleaseProductPostingLocks(tx *gorm.DB, productIds []int) {
	for _, productId := range productIds {
		lockName := fmt.Sprintf("product:%d", productId)
		var _ok int
		_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
	}
}
