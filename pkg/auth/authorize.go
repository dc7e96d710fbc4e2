package auth

import (
	"fmt"
	"sort"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// OperationRequirements maps data-plane operation names to the canonical
// permissions an operation demands. An operation needs every listed
// permission, not any one of them.
type OperationRequirements map[string][]string

// DefaultOperationRequirements returns the standard LakeGate operation
// table. Callers may extend or replace entries before building a
// [Policy].
func DefaultOperationRequirements() OperationRequirements {
	return OperationRequirements{
		"list_buckets":   {PermissionList},
		"list_objects":   {PermissionList},
		"read_object":    {PermissionRead},
		"write_object":   {PermissionWrite},
		"delete_object":  {PermissionDelete},
		"run_query":      {PermissionQuery, PermissionRead},
		"manage_catalog": {PermissionAdmin},
		"manage_access":  {PermissionAdmin},
	}
}

// Decision is the outcome of an authorization check. Reason is set only
// on denial and names the first unmet requirement, precisely enough for
// a caller to know what grant is missing without guessing.
type Decision struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool

	// Operation echoes the checked operation name.
	Operation string

	// Bucket echoes the checked resource, empty for bucket-independent
	// operations.
	Bucket string

	// Reason explains a denial in operator-readable terms.
	Reason string

	// MissingPermission names the permission whose absence caused the
	// denial, when the denial is permission-shaped.
	MissingPermission string
}

// Policy decides whether a set of claims authorizes an operation against
// a resource. The operation table is fixed at construction, so Decide is
// a pure function of its arguments: same claims, same operation, same
// answer, with nothing consulted or mutated along the way.
type Policy struct {
	requirements OperationRequirements
}

// NewPolicy builds a Policy from reqs, rejecting tables that reference
// permissions outside the platform vocabulary. Catching a typo here
// beats silently denying every request against the misspelled entry.
func NewPolicy(reqs OperationRequirements) (*Policy, error) {
	if len(reqs) == 0 {
		return nil, lgerr.New(lgerr.CodeValidation, "auth: policy requires at least one operation")
	}
	copied := make(OperationRequirements, len(reqs))
	for op, perms := range reqs {
		if op == "" {
			return nil, lgerr.New(lgerr.CodeValidation, "auth: policy operation name must not be empty")
		}
		if len(perms) == 0 {
			return nil, lgerr.Newf(lgerr.CodeValidation,
				"auth: operation %q requires at least one permission", op)
		}
		for _, p := range perms {
			if _, ok := permissionUniverse[p]; !ok {
				return nil, lgerr.Newf(lgerr.CodeValidation,
					"auth: operation %q references unknown permission %q", op, p)
			}
		}
		copied[op] = append([]string(nil), perms...)
	}
	return &Policy{requirements: copied}, nil
}

// MustNewPolicy is like [NewPolicy] but panics on error. Intended for
// wiring static tables at startup.
func MustNewPolicy(reqs OperationRequirements) *Policy {
	p, err := NewPolicy(reqs)
	if err != nil {
		panic(err)
	}
	return p
}

// Operations returns the sorted operation names the policy knows about.
func (p *Policy) Operations() []string {
	ops := make([]string, 0, len(p.requirements))
	for op := range p.requirements {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Decide evaluates operation against bucket for claims.
//
// The checks run in order: the operation must be known, the claims must
// grant every required permission, and for a non-empty bucket the claims
// must grant that bucket (exactly or through a pattern entry). The first
// failed check produces the denial; passing all of them allows.
//
// An empty bucket skips the resource check, for operations like
// list_buckets that are not scoped to one bucket.
func (p *Policy) Decide(operation, bucket string, claims *ClaimSet) Decision {
	d := Decision{Operation: operation, Bucket: bucket}

	required, ok := p.requirements[operation]
	if !ok {
		d.Reason = fmt.Sprintf("operation %q is not recognized", operation)
		return d
	}
	if claims == nil {
		d.Reason = "no authenticated claims"
		return d
	}
	for _, perm := range required {
		if !claims.HasPermission(perm) {
			d.Reason = fmt.Sprintf("operation %q requires permission %q", operation, perm)
			d.MissingPermission = perm
			return d
		}
	}
	if bucket != "" && !claims.HasBucket(bucket) {
		d.Reason = fmt.Sprintf("bucket %q is not granted", bucket)
		return d
	}
	d.Allowed = true
	return d
}

// Authorize is a convenience over [Policy.Decide] that converts a denial
// into a coded error. An unknown operation yields
// [lgerr.CodeOperationUnknown]; every other denial yields
// [lgerr.CodeAccessDenied] carrying the decision's reason.
func (p *Policy) Authorize(operation, bucket string, claims *ClaimSet) error {
	d := p.Decide(operation, bucket, claims)
	if d.Allowed {
		return nil
	}
	if _, known := p.requirements[operation]; !known {
		return lgerr.Newf(lgerr.CodeOperationUnknown, "auth: %s", d.Reason)
	}
	return lgerr.AccessDenied(d.Reason)
}
