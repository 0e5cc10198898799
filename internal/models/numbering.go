package models

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// Number prefixes.
const (
	PrefixBesoin   = "BS"
	PrefixDA       = "DA"
	PrefixBL       = "BL"
	PrefixEcriture = "EC"
	PrefixCaisse   = "CM"
)

// NextNumber returns the next "<PREFIX>-YYYY-NNNN" for model in year.
// column names the unique number column. Call it inside the creating transaction.
func NextNumber(db *gorm.DB, model any, column, prefix string, year int) (string, error) {
	stem := fmt.Sprintf("%s-%d-", prefix, year)
	var nums []string
	if err := db.Unscoped().Model(model).Where(column+" LIKE ?", stem+"%").Pluck(column, &nums).Error; err != nil {
		return "", err
	}
	seq := 0
	for _, n := range nums {
		if v, err := strconv.Atoi(strings.TrimPrefix(n, stem)); err == nil && v > seq {
			seq = v
		}
	}
	return fmt.Sprintf("%s%04d", stem, seq+1), nil
}
