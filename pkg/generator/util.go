package generator

// seedToPtrInt32 は *int64 のシードを SDK 用の *int32 に変換します。
func seedToPtrInt32(s *int64) *int32 {
	if s == nil {
		return nil
	}
	v := int32(*s)
	return &v
}

// dereferenceSeed は nil の場合 0 を返します。
func dereferenceSeed(s *int64) int64 {
	if s == nil {
		return 0
	}
	return *s
}
