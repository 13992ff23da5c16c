package quota

// Unlimited is the sentinel limit meaning "no cap".
const Unlimited int64 = -1

// IsUnlimited reports whether v is the unlimited sentinel.
func IsUnlimited(v int64) bool {
	return v == Unlimited
}

// AddLimits sums two limits or remainders. Any unlimited operand yields Unlimited.
func AddLimits(a, b int64) int64 {
	if a == Unlimited || b == Unlimited {
		return Unlimited
	}
	return a + b
}

// Remaining returns limit-used clamped at zero, or Unlimited for an unlimited limit.
func Remaining(limit, used int64) int64 {
	if limit == Unlimited {
		return Unlimited
	}
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}

// Fits reports whether amount can be taken from remaining.
func Fits(remaining, amount int64) bool {
	return remaining == Unlimited || remaining >= amount
}

// take returns how much of want can be drawn from remaining.
func take(remaining, want int64) int64 {
	if remaining == Unlimited || remaining >= want {
		return want
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// percentage returns used as a share of limit in [0, 100], or -1 for unlimited.
func percentage(limit, used int64) int {
	switch {
	case limit == Unlimited:
		return -1
	case limit <= 0:
		if used > 0 {
			return 100
		}
		return 0
	}
	p := used * 100 / limit
	if p > 100 {
		p = 100
	}
	return int(p)
}
