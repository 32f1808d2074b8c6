package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"chain-calendar/internal/domain/entity"

	"go.uber.org/zap"
)

// defaultLeasePeriodsPerSlot applies when the runtime does not expose auctions.leasePeriodsPerSlot.
const defaultLeasePeriodsPerSlot = 3

// source reads one schedule from chain state. An error means the source contributes nothing.
type source struct {
	name string
	run  func(ctx context.Context, f *frame) ([]entity.CalendarItem, error)
}

// sources is the fixed, ordered set of schedule sources.
var sources = []source{
	{name: "auction", run: fetchAuction},
	{name: "councilMotions", run: fetchCouncilMotions},
	{name: "democracyDispatches", run: fetchDemocracyDispatches},
	{name: "referendums", run: fetchReferendums},
	{name: "staking", run: fetchStaking},
	{name: "scheduler", run: fetchScheduled},
	{name: "councilElection", run: fetchCouncilElection},
	{name: "democracyLaunch", run: periodSource(entity.KindDemocracyLaunch, "democracy", "launchPeriod", "launchPeriod")},
	{name: "treasurySpend", run: periodSource(entity.KindTreasurySpend, "treasury", "spendPeriod", "spendingPeriod")},
	{name: "societyRotate", run: periodSource(entity.KindSocietyRotate, "society", "rotationPeriod", "rotateRound")},
	{name: "societyChallenge", run: periodSource(entity.KindSocietyChallenge, "society", "challengePeriod", "challengePeriod")},
	{name: "parachainLease", run: fetchParachainLease},
}

func fetchAuction(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
	ending := constUint(ctx, f.querier, "auctions", "endingPeriod")
	endingPeriod, ok := ending.Get()
	if !ok {
		return nil, ending.Err()
	}

	perSlot := uint64(defaultLeasePeriodsPerSlot)
	if v, ok := constUint(ctx, f.querier, "auctions", "leasePeriodsPerSlot").Get(); ok && v > 0 {
		perSlot = v
	}

	info := storageAs[[]Uint](ctx, f.querier, f.block, "auctions", "auctionInfo")
	if info.State() == ValueAbsent {
		// No auction running.
		return nil, nil
	}
	tuple, ok := info.Get()
	if !ok {
		return nil, info.Err()
	}
	if len(tuple) != 2 {
		return nil, fmt.Errorf("auctions.auctionInfo: %w: expected [leasePeriod, endBlock]", errMalformed)
	}

	leasePeriod, endBlock := uint64(tuple[0]), int64(tuple[1])
	start, err := addBlocks(endBlock, -int64(endingPeriod))
	if err != nil {
		return nil, fmt.Errorf("auctions.auctionInfo: %w", err)
	}
	startAnchor, err := f.anchorAt(start)
	if err != nil {
		return nil, fmt.Errorf("auctions.auctionInfo: %w", err)
	}
	endAnchor, err := f.anchorAt(endBlock)
	if err != nil {
		return nil, fmt.Errorf("auctions.auctionInfo: %w", err)
	}

	return []entity.CalendarItem{f.item(entity.KindParachainAuction, startAnchor, endAnchor, map[string]any{
		"leasePeriod":        leasePeriod,
		"leasePeriodPerSlot": perSlot,
	})}, nil
}

type councilProposal struct {
	Hash  string          `json:"hash"`
	Votes json.RawMessage `json:"votes"`
}

type councilVotes struct {
	End Uint `json:"end"`
}

func fetchCouncilMotions(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
	v := deriveAs[[]councilProposal](ctx, f.querier, f.block, "council", "proposals")
	proposals, ok := v.Get()
	if !ok {
		return nil, v.Err()
	}

	items := make([]entity.CalendarItem, 0, len(proposals))
	for _, p := range proposals {
		if len(p.Votes) == 0 || string(p.Votes) == "null" {
			continue
		}
		votes, err := decodeJSON[councilVotes](p.Votes)
		if err != nil {
			return nil, fmt.Errorf("council.proposals: %w", err)
		}
		end, err := f.anchorAt(int64(votes.End))
		if err != nil {
			return nil, fmt.Errorf("council.proposals: %w", err)
		}
		items = append(items, f.item(entity.KindCouncilMotion, nil, end, map[string]any{
			"hash":  p.Hash,
			"votes": p.Votes,
		}))
	}
	return items, nil
}

type dispatchEntry struct {
	At    Uint `json:"at"`
	Index Uint `json:"index"`
}

func fetchDemocracyDispatches(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
	v := deriveAs[[]dispatchEntry](ctx, f.querier, f.block, "democracy", "dispatchQueue")
	dispatches, ok := v.Get()
	if !ok {
		return nil, v.Err()
	}

	items := make([]entity.CalendarItem, 0, len(dispatches))
	for _, d := range dispatches {
		at, err := f.anchorAt(int64(d.At))
		if err != nil {
			return nil, fmt.Errorf("democracy.dispatchQueue: %w", err)
		}
		items = append(items, f.item(entity.KindDemocracyDispatch, nil, at, map[string]any{
			"index": uint64(d.Index),
		}))
	}
	return items, nil
}

type referendum struct {
	Index  Uint `json:"index"`
	Status *struct {
		End   Uint `json:"end"`
		Delay Uint `json:"delay"`
	} `json:"status"`
}

func fetchReferendums(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
	v := deriveAs[[]referendum](ctx, f.querier, f.block, "democracy", "referendums")
	referendums, ok := v.Get()
	if !ok {
		return nil, v.Err()
	}

	items := make([]entity.CalendarItem, 0, 2*len(referendums))
	for _, r := range referendums {
		if r.Status == nil {
			continue
		}
		end := int64(r.Status.End)
		endDate, err := f.timeAt(end)
		if err != nil {
			return nil, fmt.Errorf("democracy.referendums: %w", err)
		}
		summary := map[string]any{
			"endBlock": uint64(end),
			"endDate":  endDate,
		}
		dispatchAt, err := addBlocks(end, int64(r.Status.Delay))
		if err != nil {
			return nil, fmt.Errorf("democracy.referendums: %w", err)
		}
		dispatch, err := f.anchorAt(dispatchAt)
		if err != nil {
			return nil, fmt.Errorf("democracy.referendums: %w", err)
		}
		vote, err := f.anchorAt(end - 1)
		if err != nil {
			return nil, fmt.Errorf("democracy.referendums: %w", err)
		}

		items = append(items,
			f.item(entity.KindReferendumDispatch, nil, dispatch, map[string]any{
				"index":      uint64(r.Index),
				"referendum": summary,
			}),
			f.item(entity.KindReferendumVote, nil, vote, map[string]any{
				"index":      uint64(r.Index),
				"isPending":  true,
				"referendum": summary,
			}),
		)
	}
	return items, nil
}

type sessionProgress struct {
	SessionLength   Uint `json:"sessionLength"`
	SessionProgress Uint `json:"sessionProgress"`
	CurrentIndex    Uint `json:"currentIndex"`
	ActiveEra       Uint `json:"activeEra"`
	EraLength       Uint `json:"eraLength"`
	EraProgress     Uint `json:"eraProgress"`
}

func fetchStaking(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
	v := deriveAs[sessionProgress](ctx, f.querier, f.block, "session", "progress")
	session, ok := v.Get()
	if !ok {
		return nil, v.Err()
	}
	if session.SessionLength <= 1 {
		return nil, nil
	}

	activeEra := int64(session.ActiveEra)
	eraLength := int64(session.EraLength)
	eraProgress := int64(session.EraProgress)

	eraEnd, err := addBlocks(f.current(), eraLength, -eraProgress)
	if err != nil {
		return nil, fmt.Errorf("session.progress: %w", err)
	}
	sessionEnd, err := addBlocks(f.current(), int64(session.SessionLength), -int64(session.SessionProgress))
	if err != nil {
		return nil, fmt.Errorf("session.progress: %w", err)
	}
	eraAnchor, err := f.anchorAt(eraEnd)
	if err != nil {
		return nil, fmt.Errorf("session.progress: %w", err)
	}
	sessionAnchor, err := f.anchorAt(sessionEnd)
	if err != nil {
		return nil, fmt.Errorf("session.progress: %w", err)
	}

	items := []entity.CalendarItem{
		f.item(entity.KindStakingEra, eraAnchor, nil, map[string]any{
			"index": uint64(activeEra + 1),
		}),
		f.item(entity.KindStakingEpoch, nil, sessionAnchor, map[string]any{
			"index": uint64(session.CurrentIndex) + 1,
		}),
	}

	deferDuration := constUint(ctx, f.querier, "staking", "slashDeferDuration")
	slashDefer, ok := deferDuration.Get()
	if !ok || slashDefer == 0 {
		if !ok && deferDuration.State() != ValueAbsent {
			f.logger.Debug("Slash defer duration unavailable", zap.String("network", f.network), zap.Error(deferDuration.Err()))
		}
		return items, nil
	}
	slashDuration, err := mulBlocks(int64(slashDefer), eraLength)
	if err != nil {
		f.logger.Debug("Slash defer duration out of range", zap.String("network", f.network), zap.Error(err))
		return items, nil
	}

	entries, err := f.querier.Entries(ctx, f.block, "staking", "unappliedSlashes")
	if err != nil {
		// Era and epoch items stand on their own.
		f.logger.Debug("Unapplied slashes unavailable", zap.String("network", f.network), zap.Error(err))
		return items, nil
	}

	prevEra := activeEra - 1
	for _, e := range entries {
		if len(e.Keys) == 0 {
			continue
		}
		slashes, err := decodeJSON[[]json.RawMessage](e.Value)
		if err != nil || len(slashes) == 0 {
			continue
		}
		slashEra, err := decodeUint(e.Keys[0])
		if err != nil {
			continue
		}
		end, err := slashEnd(f.current(), slashDuration, prevEra-int64(slashEra), eraLength, eraProgress)
		if err != nil {
			f.logger.Debug("Unapplied slash out of range", zap.String("network", f.network), zap.Uint64("era", slashEra), zap.Error(err))
			continue
		}
		anchor, err := f.anchorAt(end)
		if err != nil {
			f.logger.Debug("Unapplied slash out of range", zap.String("network", f.network), zap.Uint64("era", slashEra), zap.Error(err))
			continue
		}
		items = append(items, f.item(entity.KindStakingSlash, nil, anchor, map[string]any{
			"index": slashEra,
		}))
	}
	return items, nil
}

// slashEnd is the block at which a slash deferred eraDelta eras ago gets applied.
func slashEnd(current, slashDuration, eraDelta, eraLength, eraProgress int64) (int64, error) {
	elapsed, err := mulBlocks(eraDelta, eraLength)
	if err != nil {
		return 0, err
	}
	progress, err := addBlocks(elapsed, eraProgress)
	if err != nil {
		return 0, err
	}
	if progress == math.MinInt64 {
		return 0, fmt.Errorf("%w: block arithmetic overflows", errMalformed)
	}
	return addBlocks(current, slashDuration, -progress)
}

type scheduledTask struct {
	MaybeID json.RawMessage `json:"maybeId"`
}

func fetchScheduled(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
	entries, err := f.querier.Entries(ctx, f.block, "scheduler", "agenda")
	if err != nil {
		return nil, fmt.Errorf("scheduler.agenda: %w", err)
	}

	var items []entity.CalendarItem
	for _, e := range entries {
		if len(e.Keys) == 0 {
			continue
		}
		at, err := decodeUint(e.Keys[0])
		if err != nil {
			return nil, fmt.Errorf("scheduler.agenda key: %w", err)
		}
		tasks, err := decodeJSON[[]*scheduledTask](e.Value)
		if err != nil {
			return nil, fmt.Errorf("scheduler.agenda value: %w", err)
		}
		anchor, err := f.anchorAt(int64(at))
		if err != nil {
			return nil, fmt.Errorf("scheduler.agenda key: %w", err)
		}

		for _, task := range tasks {
			if task == nil {
				continue
			}
			var id any
			if s, ok := decodeTaskID(task.MaybeID); ok {
				id = s
			}
			items = append(items, f.item(entity.KindScheduler, nil, anchor, map[string]any{
				"id": id,
			}))
		}
	}
	return items, nil
}

// electionPallets hold termDuration depending on the runtime generation.
var electionPallets = []string{"elections", "phragmenElection", "electionsPhragmen"}

func fetchCouncilElection(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
	var last Value[uint64]
	for _, pallet := range electionPallets {
		last = constUint(ctx, f.querier, pallet, "termDuration")
		if last.State() != ValueAbsent {
			break
		}
	}
	term, ok := last.Get()
	if !ok {
		return nil, last.Err()
	}

	items, err := f.periodItem(entity.KindCouncilElection, term, 0, func(p phase) map[string]any {
		return map[string]any{"electionRound": p.index}
	})
	if err != nil {
		return nil, fmt.Errorf("termDuration: %w", err)
	}
	return items, nil
}

// periodSource builds a source for a schedule repeating every pallet.name blocks.
func periodSource(kind entity.EventKind, pallet, name, indexKey string) func(context.Context, *frame) ([]entity.CalendarItem, error) {
	return func(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
		v := constUint(ctx, f.querier, pallet, name)
		length, ok := v.Get()
		if !ok {
			return nil, v.Err()
		}
		items, err := f.periodItem(kind, length, 0, func(p phase) map[string]any {
			return map[string]any{indexKey: p.index}
		})
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", pallet, name, err)
		}
		return items, nil
	}
}

func fetchParachainLease(ctx context.Context, f *frame) ([]entity.CalendarItem, error) {
	v := constUint(ctx, f.querier, "slots", "leasePeriod")
	length, ok := v.Get()
	if !ok {
		return nil, v.Err()
	}

	offsetValue := constUint(ctx, f.querier, "slots", "leaseOffset")
	offset, ok := offsetValue.Get()
	if !ok {
		if offsetValue.State() != ValueAbsent {
			return nil, offsetValue.Err()
		}
		offset = 0
	}

	items, err := f.periodItem(entity.KindParachainLease, length, offset, func(p phase) map[string]any {
		return map[string]any{"leasePeriod": p.index + 1}
	})
	if err != nil {
		return nil, fmt.Errorf("slots.leasePeriod: %w", err)
	}
	return items, nil
}
