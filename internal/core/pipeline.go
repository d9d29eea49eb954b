package core

import "fmt"

// process runs map, validate, filter and format for one record. ok is false
// when the record was rejected; err is only set for unexpected errors.
func (r *run) process(index int, raw Record, ws *writerSet) (formatted Record, targets []*writerEntry, ok bool, err error) {
	mapped, merr := r.o.mapper.Map(r.work, raw)
	if merr != nil {
		ff, isFailure := AsFieldFailures(merr)
		if !isFailure {
			return nil, nil, false, fmt.Errorf("map record %d: %w", index, merr)
		}
		r.reject(index, StageMap, ff)
		r.o.bus.Publish(r.work, Event{Kind: EventRecordMapped, Index: index, Input: raw, Failures: ff})
		return nil, nil, false, nil
	}
	r.o.bus.Publish(r.work, Event{Kind: EventRecordMapped, Index: index, Input: raw, Output: mapped, Success: true})

	if verr := r.o.validator.Validate(r.work, mapped); verr != nil {
		ff, isFailure := AsFieldFailures(verr)
		if !isFailure {
			return nil, nil, false, fmt.Errorf("validate record %d: %w", index, verr)
		}
		r.reject(index, StageValidate, ff)
		r.o.bus.Publish(r.work, Event{Kind: EventRecordValidated, Index: index, Input: mapped, Failures: ff})
		return nil, nil, false, nil
	}
	r.o.bus.Publish(r.work, Event{Kind: EventRecordValidated, Index: index, Input: mapped, Output: mapped, Success: true})

	targets = ws.route(mapped)

	formatted = r.o.formatter.Format(mapped)
	r.o.bus.Publish(r.work, Event{Kind: EventRecordFormatted, Index: index, Input: mapped, Output: formatted, Success: true})

	return formatted, targets, true, nil
}
