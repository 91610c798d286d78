package pkg

// Contains check source have target
func Contains(slice []string, val string) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// AppendIfMissing appends val when it is not already in list.
func AppendIfMissing(list []string, val string) []string {
	if Contains(list, val) {
		return list
	}
	return append(list, val)
}
