package utils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs validator tags over an input struct and maps the
// failures to field:tag pairs.
func ValidateStruct(input interface{}) (map[string]string, error) {
	if err := validate.Struct(input); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return ProcessValidationErrors(err), err
		}
		return nil, err
	}
	return nil, nil
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

// returns slice removing duplicate elements
func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

// ProductsLock obtains best-effort cross-instance locks for the given product
// set, in ascending id order so concurrent callers cannot deadlock. The
// returned release func unlocks in reverse order.
//
// Redis is an optimization only: correctness relies on the MySQL advisory
// locks taken inside the posting transaction.
func ProductsLock(ctx context.Context, productIds []int, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", productIds, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}

	ids := UniqueSlice(productIds)
	sort.Ints(ids)

	locks := make([]*redislock.Lock, 0, len(ids))
	release := func() {
		for i := len(locks) - 1; i >= 0; i-- {
			_ = locks[i].Release(ctx)
		}
	}

	for _, id := range ids {
		lockKey := fmt.Sprintf("product:%d", id)
		lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
		if err == redislock.ErrNotObtained {
			release()
			config.LogError(logger, moduleName, functionName, "Could not obtain lock for product", id, err)
			return nil, errors.New("could not obtain lock for product")
		} else if err != nil {
			release()
			config.LogError(logger, moduleName, functionName, "Error obtaining lock for product", id, err)
			return nil, err
		}
		locks = append(locks, lock)
	}

	return release, nil
}
