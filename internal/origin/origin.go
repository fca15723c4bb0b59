package origin

// Validator checks a request's Origin header against an allow-list.
// Requests without an Origin (same-origin or non-browser clients) pass.
type Validator struct {
	allowed map[string]struct{}
	origins []string
}

func NewValidator(origins []string) *Validator {
	v := &Validator{
		allowed: make(map[string]struct{}, len(origins)),
		origins: make([]string, 0, len(origins)),
	}
	for _, o := range origins {
		if _, dup := v.allowed[o]; dup {
			continue
		}
		v.allowed[o] = struct{}{}
		v.origins = append(v.origins, o)
	}
	return v
}

func (v *Validator) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	_, ok := v.allowed[origin]
	return ok
}

// Origins returns the allow-list in configuration order.
func (v *Validator) Origins() []string {
	return append([]string(nil), v.origins...)
}
