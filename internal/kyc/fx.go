package kyc

import "go.uber.org/fx"

var Module = fx.Module("kyc",
	fx.Provide(NewStore),
	fx.Provide(func(s *Store) Verifier { return s }),
)
