package coord

import (
	"cosmossdk.io/math"

	"github.com/tro-protocol/coordinator/internal/types"
)

// The stake ledger tracks free and locked balances per owner. Exported
// methods take the owner's account stripe; unexported ones assume the caller
// already holds every stripe the move touches. Every mutation is
// all-or-nothing and leaves no balance negative.

func (c *Coordinator) getAccountOrNew(owner string) (types.StakeAccount, error) {
	var acct types.StakeAccount
	found, err := c.store.getJSON(AccountKey(owner), &acct)
	if err != nil {
		return acct, err
	}
	if !found {
		acct = types.StakeAccount{Owner: owner, Free: math.ZeroInt(), Locked: math.ZeroInt()}
	}
	return acct, nil
}

func (c *Coordinator) saveAccount(acct types.StakeAccount) error {
	return c.store.setJSON(AccountKey(acct.Owner), acct)
}

// Balance returns an owner's account. Absent owners read as zero balances.
func (c *Coordinator) Balance(owner string) (types.StakeAccount, error) {
	unlock := c.accounts.lock(owner)
	defer unlock()
	return c.getAccountOrNew(owner)
}

// Deposit credits amount to an owner's free balance.
func (c *Coordinator) Deposit(owner string, amount math.Int) error {
	if owner == "" || !amount.IsPositive() {
		return types.ErrInvalidAmount.Wrap("deposit requires an owner and a positive amount")
	}
	unlock := c.accounts.lock(owner)
	defer unlock()
	if err := c.deposit(owner, amount); err != nil {
		return err
	}
	c.audit(types.AuditCategoryLedger, "deposit", owner, accountTarget(owner), "", amount.String(), true, nil)
	return nil
}

func (c *Coordinator) deposit(owner string, amount math.Int) error {
	acct, err := c.getAccountOrNew(owner)
	if err != nil {
		return err
	}
	acct.Free = acct.Free.Add(amount)
	return c.saveAccount(acct)
}

// Withdraw debits amount from an owner's free balance. Locked stake is not
// withdrawable; release it first.
func (c *Coordinator) Withdraw(owner string, amount math.Int) error {
	if owner == "" || !amount.IsPositive() {
		return types.ErrInvalidAmount.Wrap("withdraw requires an owner and a positive amount")
	}
	unlock := c.accounts.lock(owner)
	defer unlock()
	if err := c.withdraw(owner, amount); err != nil {
		c.audit(types.AuditCategoryLedger, "withdraw", owner, accountTarget(owner), "", amount.String(), false, nil)
		return err
	}
	c.audit(types.AuditCategoryLedger, "withdraw", owner, accountTarget(owner), "", amount.String(), true, nil)
	return nil
}

func (c *Coordinator) withdraw(owner string, amount math.Int) error {
	acct, err := c.getAccountOrNew(owner)
	if err != nil {
		return err
	}
	if acct.Free.LT(amount) {
		return types.ErrInsufficientBalance.Wrapf("free %s < requested %s", acct.Free, amount)
	}
	acct.Free = acct.Free.Sub(amount)
	return c.saveAccount(acct)
}

// lockStake moves amount from free to locked on one account.
func (c *Coordinator) lockStake(owner string, amount math.Int, purpose string) error {
	acct, err := c.getAccountOrNew(owner)
	if err != nil {
		return err
	}
	if acct.Free.LT(amount) {
		return types.ErrInsufficientBalance.Wrapf("free %s < lock %s for %s", acct.Free, amount, purpose)
	}
	acct.Free = acct.Free.Sub(amount)
	acct.Locked = acct.Locked.Add(amount)
	if err := c.saveAccount(acct); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.StakeLocked.WithLabelValues(purpose).Add(float64(amount.Int64()))
	}
	c.audit(types.AuditCategoryLedger, "lock", owner, accountTarget(owner), "", amount.String(), true,
		map[string]string{"purpose": purpose})
	return nil
}

// releaseStake moves amount from locked back to free on one account.
func (c *Coordinator) releaseStake(owner string, amount math.Int, purpose string) error {
	acct, err := c.getAccountOrNew(owner)
	if err != nil {
		return err
	}
	if acct.Locked.LT(amount) {
		return types.ErrConsistencyViolation.Wrapf("locked %s < release %s for %s", acct.Locked, amount, purpose)
	}
	acct.Locked = acct.Locked.Sub(amount)
	acct.Free = acct.Free.Add(amount)
	if err := c.saveAccount(acct); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.StakeLocked.WithLabelValues(purpose).Sub(float64(amount.Int64()))
	}
	c.audit(types.AuditCategoryLedger, "release", owner, accountTarget(owner), "", amount.String(), true,
		map[string]string{"purpose": purpose})
	return nil
}

// moveLocked debits amount from one owner's locked balance and credits it to
// the beneficiary's free balance. Caller holds both stripes.
func (c *Coordinator) moveLocked(from, to string, amount math.Int, purpose string) error {
	if amount.IsZero() {
		return nil
	}
	src, err := c.getAccountOrNew(from)
	if err != nil {
		return err
	}
	if src.Locked.LT(amount) {
		return types.ErrConsistencyViolation.Wrapf("locked %s < move %s for %s", src.Locked, amount, purpose)
	}
	src.Locked = src.Locked.Sub(amount)
	if err := c.saveAccount(src); err != nil {
		return err
	}
	dst, err := c.getAccountOrNew(to)
	if err != nil {
		return err
	}
	dst.Free = dst.Free.Add(amount)
	if err := c.saveAccount(dst); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.StakeLocked.WithLabelValues(purpose).Sub(float64(amount.Int64()))
	}
	c.audit(types.AuditCategoryLedger, "move_locked", from, accountTarget(to), "", amount.String(), true,
		map[string]string{"purpose": purpose})
	return nil
}

// slashStake burns amount from an owner, taking locked balance first, and
// credits the beneficiary. A slash record is written either way. Caller
// holds both stripes.
func (c *Coordinator) slashStake(owner string, amount math.Int, beneficiary, reason string, taskID, challengeID uint64) (math.Int, error) {
	acct, err := c.getAccountOrNew(owner)
	if err != nil {
		return math.ZeroInt(), err
	}
	slashed := math.ZeroInt()
	fromLocked := math.MinInt(acct.Locked, amount)
	acct.Locked = acct.Locked.Sub(fromLocked)
	slashed = slashed.Add(fromLocked)
	if remaining := amount.Sub(fromLocked); remaining.IsPositive() {
		fromFree := math.MinInt(acct.Free, remaining)
		acct.Free = acct.Free.Sub(fromFree)
		slashed = slashed.Add(fromFree)
	}
	if err := c.saveAccount(acct); err != nil {
		return math.ZeroInt(), err
	}
	if slashed.IsPositive() && beneficiary != "" {
		dst, err := c.getAccountOrNew(beneficiary)
		if err != nil {
			return math.ZeroInt(), err
		}
		dst.Free = dst.Free.Add(slashed)
		if err := c.saveAccount(dst); err != nil {
			return math.ZeroInt(), err
		}
	}
	id, err := c.store.nextID(NextSlashIDKey)
	if err != nil {
		return math.ZeroInt(), err
	}
	rec := types.SlashRecord{
		ID:          id,
		Owner:       owner,
		TaskID:      taskID,
		ChallengeID: challengeID,
		Amount:      slashed,
		Beneficiary: beneficiary,
		Reason:      reason,
		SlashedAt:   c.clock.Now(),
	}
	if err := c.store.setJSON(SlashRecordKey(id), rec); err != nil {
		return math.ZeroInt(), err
	}
	if err := c.store.setRaw(SlashRecordByOwnerKey(owner, id), uint64ToBytes(id)); err != nil {
		return math.ZeroInt(), err
	}
	if c.metrics != nil {
		c.metrics.NodeSlashing.WithLabelValues(reason).Inc()
	}
	c.audit(types.AuditCategoryLedger, "slash", owner, accountTarget(owner), amount.String(), slashed.String(), true,
		map[string]string{"reason": reason, "beneficiary": beneficiary})
	c.log.Warn("stake slashed",
		"owner", owner, "requested", amount.String(), "slashed", slashed.String(), "reason", reason)
	return slashed, nil
}

// SlashRecords returns an owner's slash history in event order.
func (c *Coordinator) SlashRecords(owner string) ([]types.SlashRecord, error) {
	var out []types.SlashRecord
	prefix := append(SlashRecordsByOwnerPrefix, []byte(owner)...)
	prefix = append(prefix, 0x00)
	err := c.store.iteratePrefix(prefix, func(_, value []byte) (bool, error) {
		var rec types.SlashRecord
		found, err := c.store.getJSON(SlashRecordKey(bytesToUint64(value)), &rec)
		if err != nil {
			return false, err
		}
		if found {
			out = append(out, rec)
		}
		return true, nil
	})
	return out, err
}
